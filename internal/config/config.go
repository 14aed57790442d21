package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/prefs"
	pion "github.com/pion/webrtc/v4"
)

// Default configuration values (production)
const (
	DefaultDomain   = "meet.polygo.app"
	DefaultHubPath  = "/hubs/meeting"
	DefaultLanguage = "en"
)

// ICE servers are fixed; they are not user-configurable.
const (
	stunServer = "stun:stun.l.google.com:19302"
	turnHost   = "turn.polygo.app"
	turnUser   = "polygo"
	turnPass   = "polygo-turn-secret"
)

// Config holds application configuration
type Config struct {
	// Domain is the meeting backend domain
	Domain string

	// HubURL is constructed from domain and hub path
	HubURL string

	// Language is the BCP-47 tag used for speech recognition
	Language string

	// PrefsPath is where mic/camera preferences are persisted
	PrefsPath string

	// STTURL is the speech-to-text websocket service. Empty disables
	// transcription.
	STTURL string

	// ForceRelay restricts ICE to TURN relays
	ForceRelay bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain     string
	HubPath    string
	Language   string
	PrefsPath  string
	STTURL     string
	ForceRelay bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := pick(opts.Domain, "POLYGO_DOMAIN", DefaultDomain)
	hubPath := pick(opts.HubPath, "POLYGO_HUB_PATH", DefaultHubPath)
	if !strings.HasPrefix(hubPath, "/") {
		hubPath = "/" + hubPath
	}

	prefsPath := pick(opts.PrefsPath, "POLYGO_PREFS", "")
	if prefsPath == "" {
		p, err := prefs.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("locate preferences file: %w", err)
		}
		prefsPath = p
	}

	hubURL, err := buildHubURL(domain, hubPath)
	if err != nil {
		return nil, err
	}

	return &Config{
		Domain:     domain,
		HubURL:     hubURL,
		Language:   pick(opts.Language, "POLYGO_LANGUAGE", DefaultLanguage),
		PrefsPath:  prefsPath,
		STTURL:     pick(opts.STTURL, "POLYGO_STT_URL", ""),
		ForceRelay: opts.ForceRelay,
	}, nil
}

// pick returns flag, then the env variable, then def.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// buildHubURL accepts a bare domain ("meet.polygo.app", "localhost:8080") or
// a full http(s)/ws(s) URL.
func buildHubURL(domain, hubPath string) (string, error) {
	if !strings.Contains(domain, "://") {
		return fmt.Sprintf("wss://%s%s", domain, hubPath), nil
	}

	u, err := url.Parse(domain)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in domain", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + hubPath
	return u.String(), nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return []string{stunServer}
}

// GetTURNServers returns the TURN relay in its UDP, TCP and TLS variants
func (c *Config) GetTURNServers() []string {
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", turnHost),
		fmt.Sprintf("turn:%s:3478?transport=tcp", turnHost),
		fmt.Sprintf("turns:%s:5349?transport=tcp", turnHost),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return turnUser, turnPass
}

// PeerConfiguration builds the configuration every peer connection uses.
func (c *Config) PeerConfiguration() pion.Configuration {
	user, pass := c.GetTURNCredentials()
	cfg := pion.Configuration{
		ICEServers: []pion.ICEServer{
			{URLs: c.GetSTUNServers()},
			{URLs: c.GetTURNServers(), Username: user, Credential: pass},
		},
	}
	if c.ForceRelay {
		cfg.ICETransportPolicy = pion.ICETransportPolicyRelay
	}
	return cfg
}
