package cmd

import (
	"fmt"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/config"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/meeting"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/ui"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/utils"
	"github.com/spf13/cobra"
)

var (
	flagDomain     string
	flagHubPath    string
	flagName       string
	flagHost       bool
	flagLang       string
	flagNoVideo    bool
	flagNoDevices  bool
	flagRelay      bool
	flagSTTURL     string
	flagPrefs      string
	flagCaptions   bool
	flagTranscribe bool
)

var joinCmd = &cobra.Command{
	Use:     "join <event-id>",
	Aliases: []string{"j"},
	Short:   "Join a meeting room",
	Long: `Join a PolyGo meeting as a participant.

Examples:
  polygo-meet join 7f3c2a --name Lan
  polygo-meet join 7f3c2a --name Lan --host --lang vi --captions
  polygo-meet join 7f3c2a --domain http://localhost:8080 --no-devices`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinMeeting(cmd, JoinOptions{
			EventID:    args[0],
			Name:       flagName,
			IsHost:     flagHost,
			NoVideo:    flagNoVideo,
			NoDevices:  flagNoDevices,
			Captions:   flagCaptions,
			Transcribe: flagTranscribe,
		})
	},
}

func joinMeeting(cmd *cobra.Command, opts JoinOptions) error {
	if opts.Name == "" {
		return fmt.Errorf("a display name is required (--name)")
	}

	cfg, err := LoadConfig(config.Options{
		Domain:     flagDomain,
		HubPath:    flagHubPath,
		Language:   flagLang,
		PrefsPath:  flagPrefs,
		STTURL:     flagSTTURL,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return err
	}
	if !cfg.ForceRelay {
		if relay, reason := utils.ShouldForceRelay(); relay {
			cfg.ForceRelay = true
			ui.PrintInfof("Using the TURN relay (%s)", reason)
		}
	}

	ctx := cmd.Context()
	mc := NewMeetingContext(cfg, opts)
	defer mc.Close()

	err = ui.Step(fmt.Sprintf("Joining %s...", opts.EventID), fmt.Sprintf("Joined %s as %s", opts.EventID, opts.Name),
		func() error { return mc.Join(ctx, opts) })
	if err != nil {
		return err
	}

	if err := mc.View.Run(ctx); err != nil {
		return err
	}

	ended := mc.Session.State() == meeting.Left
	mc.Close()
	if ended {
		ui.PrintInfo("The meeting has ended")
	} else {
		ui.PrintSuccess("You left the meeting")
	}
	if snap := mc.Session.Snapshot(); snap.Summary != nil {
		ui.RenderSummary(*snap.Summary)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name shown to other participants")
	joinCmd.Flags().BoolVar(&flagHost, "host", false, "Join as the meeting host")
	joinCmd.Flags().StringVarP(&flagLang, "lang", "l", "", "Spoken and caption language (default en)")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Join with the camera off")
	joinCmd.Flags().BoolVar(&flagNoDevices, "no-devices", false, "Join without camera and microphone")
	joinCmd.Flags().BoolVarP(&flagCaptions, "captions", "c", false, "Show captions from the start")
	joinCmd.Flags().BoolVarP(&flagTranscribe, "transcribe", "t", false, "Transcribe your microphone from the start")
	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Meeting service domain")
	joinCmd.Flags().StringVar(&flagHubPath, "hub-path", "", "Hub path on the meeting service")
	joinCmd.Flags().StringVar(&flagSTTURL, "stt-url", "", "Speech-to-text websocket service")
	joinCmd.Flags().StringVar(&flagPrefs, "prefs", "", "Device preferences file")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}
