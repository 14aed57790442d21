package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/captions"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/captions/wsengine"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/config"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media/devices"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/meeting"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/peer"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/prefs"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/ui"
)

const leaveTimeout = 5 * time.Second

// JoinOptions are the per-participant choices of the join command.
type JoinOptions struct {
	EventID    string
	Name       string
	IsHost     bool
	NoVideo    bool
	NoDevices  bool
	Captions   bool
	Transcribe bool
}

// MeetingContext owns everything one joined meeting needs.
type MeetingContext struct {
	Config  *config.Config
	Client  *signaling.Client
	Session *meeting.Session
	View    *ui.MeetingUI
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, meeting.NewError("load config", err)
	}
	return cfg, nil
}

// NewMeetingContext wires the hub client, devices, captions engine and
// session together. Nothing touches the network until Join.
func NewMeetingContext(cfg *config.Config, opts JoinOptions) *MeetingContext {
	logger := slog.Default()
	mc := &MeetingContext{Config: cfg}

	mc.Client = signaling.NewClient(signaling.Options{
		URL:    cfg.HubURL,
		Logger: logger,
	})

	var source media.Source
	if !opts.NoDevices {
		src, err := devices.New(devices.Options{})
		if err != nil {
			logger.Warn("media devices unavailable", "error", err)
		} else {
			source = src
		}
	}

	var recognizer captions.Engine
	if cfg.STTURL != "" {
		recognizer = wsengine.New(cfg.STTURL)
	}

	mc.Session = meeting.NewSession(meeting.Options{
		EventID:     opts.EventID,
		Name:        opts.Name,
		IsHost:      opts.IsHost,
		Language:    cfg.Language,
		Hub:         mc.Client,
		MediaSource: source,
		Constraints: media.Constraints{Audio: true, Video: !opts.NoVideo},
		Prefs:       prefs.NewStore(cfg.PrefsPath),
		PeerConfig:  cfg.PeerConfiguration(),
		NewConn:     peer.NewPionConn,
		Recognizer:  recognizer,
		Logger:      logger,
		OnChange: func() {
			if mc.View != nil {
				mc.View.Refresh()
			}
		},
		OnNotice: func(n meeting.Notice) {
			if mc.View != nil {
				mc.View.Notice(n)
			}
		},
	})
	mc.View = ui.NewMeetingUI(mc.Session, cfg.Language)
	return mc
}

// Join enters the room and starts the call with everyone already there.
func (mc *MeetingContext) Join(ctx context.Context, opts JoinOptions) error {
	if err := mc.Session.JoinRoom(ctx); err != nil {
		return err
	}
	if err := mc.Session.StartCall(ctx); err != nil {
		return err
	}
	// A summary generated before this participant arrived is shown on leave.
	if _, err := mc.Session.GetMeetingSummary(ctx); err != nil {
		slog.Debug("get meeting summary", "error", err)
	}
	if opts.Captions {
		mc.Session.SetCaptions(true, mc.Config.Language)
	}
	if opts.Transcribe {
		if err := mc.Session.StartTranscription(ctx); err != nil {
			slog.Warn("transcription unavailable", "error", err)
		}
	}
	return nil
}

// Close leaves the room if the meeting is still going.
func (mc *MeetingContext) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := mc.Session.LeaveRoom(ctx); err != nil {
		slog.Warn("leave room", "error", err)
	}
}
