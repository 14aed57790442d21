package config

import (
	"testing"

	pion "github.com/pion/webrtc/v4"
)

func TestLoadPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		opts    Options
		wantURL string
		wantLng string
	}{
		{
			name:    "defaults",
			wantURL: "wss://meet.polygo.app/hubs/meeting",
			wantLng: "en",
		},
		{
			name:    "env over default",
			env:     map[string]string{"POLYGO_DOMAIN": "env.example", "POLYGO_LANGUAGE": "vi"},
			wantURL: "wss://env.example/hubs/meeting",
			wantLng: "vi",
		},
		{
			name:    "flag over env",
			env:     map[string]string{"POLYGO_DOMAIN": "env.example", "POLYGO_LANGUAGE": "vi"},
			opts:    Options{Domain: "flag.example", Language: "ja"},
			wantURL: "wss://flag.example/hubs/meeting",
			wantLng: "ja",
		},
		{
			name:    "local http domain",
			opts:    Options{Domain: "http://localhost:8080", HubPath: "meeting"},
			wantURL: "ws://localhost:8080/meeting",
			wantLng: "en",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"POLYGO_DOMAIN", "POLYGO_HUB_PATH", "POLYGO_LANGUAGE", "POLYGO_STT_URL"} {
				t.Setenv(key, tt.env[key])
			}
			t.Setenv("POLYGO_PREFS", t.TempDir()+"/prefs.msgpack")

			cfg, err := Load(tt.opts)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.HubURL != tt.wantURL {
				t.Errorf("HubURL = %q, want %q", cfg.HubURL, tt.wantURL)
			}
			if cfg.Language != tt.wantLng {
				t.Errorf("Language = %q, want %q", cfg.Language, tt.wantLng)
			}
		})
	}
}

func TestLoadRejectsUnknownScheme(t *testing.T) {
	t.Setenv("POLYGO_PREFS", t.TempDir()+"/prefs.msgpack")
	if _, err := Load(Options{Domain: "ftp://example.com"}); err == nil {
		t.Fatal("Load accepted an ftp domain")
	}
}

func TestPeerConfiguration(t *testing.T) {
	cfg := &Config{}
	pc := cfg.PeerConfiguration()
	if len(pc.ICEServers) != 2 {
		t.Fatalf("ICE servers = %d, want STUN and TURN", len(pc.ICEServers))
	}
	turn := pc.ICEServers[1]
	if len(turn.URLs) != 3 || turn.Username == "" || turn.Credential == nil {
		t.Fatalf("TURN server = %+v", turn)
	}
	if pc.ICETransportPolicy == pion.ICETransportPolicyRelay {
		t.Fatal("relay forced without ForceRelay")
	}

	cfg.ForceRelay = true
	if got := cfg.PeerConfiguration().ICETransportPolicy; got != pion.ICETransportPolicyRelay {
		t.Fatalf("policy = %s, want relay", got)
	}
}
