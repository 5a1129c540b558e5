// Package config loads the daemon configuration from an optional YAML file,
// environment variables and command line flags, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sebas/softline/internal/platform"
)

// Config holds the daemon configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	// Call is the peer to call once registered; empty waits for a call.
	Call string `yaml:"-"`

	SIP      SIPConfig      `yaml:"sip"`
	Session  SessionConfig  `yaml:"session"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Audio    AudioConfig    `yaml:"audio"`
	CallLog  CallLogConfig  `yaml:"call_log"`
	Platform PlatformConfig `yaml:"platform"`
}

// SIPConfig configures the SIP user agent.
type SIPConfig struct {
	Domain        string        `yaml:"domain"`
	Registrar     string        `yaml:"registrar"`
	Listen        string        `yaml:"listen"`
	Advertise     string        `yaml:"advertise"`
	Credentials   string        `yaml:"credentials"`
	Expires       time.Duration `yaml:"expires"`
	InviteTimeout time.Duration `yaml:"invite_timeout"`
}

// SessionConfig holds the session timings.
type SessionConfig struct {
	TerminateCheck     time.Duration `yaml:"terminate_check"`
	EncryptionCheck    time.Duration `yaml:"encryption_check"`
	UnregisterGrace    time.Duration `yaml:"unregister_grace"`
	JoinTimeout        time.Duration `yaml:"join_timeout"`
	RefreshMinInterval time.Duration `yaml:"refresh_min_interval"`
	MaxWorkerRestarts  int           `yaml:"max_worker_restarts"`
}

// APIConfig configures the HTTP API and the gRPC health service.
type APIConfig struct {
	Addr        string `yaml:"addr"`
	HealthAddr  string `yaml:"health_addr"`
	CommandRate int    `yaml:"command_rate"`
}

// MQTTConfig configures the MQTT broadcast. An empty broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// AudioConfig configures effect playback.
type AudioConfig struct {
	// Device plays effects on the default audio device; otherwise they are
	// only timed.
	Device     bool   `yaml:"device"`
	SoundsDir  string `yaml:"sounds_dir"`
	// RingerMode is the initial ringer mode: normal, vibrate or silent.
	RingerMode string `yaml:"ringer_mode"`
}

// Ringer returns the parsed initial ringer mode.
func (a AudioConfig) Ringer() (platform.RingerMode, error) {
	return platform.ParseRingerMode(a.RingerMode)
}

// CallLogConfig configures the call history. An empty path disables it.
type CallLogConfig struct {
	Path string `yaml:"path"`
}

// PlatformConfig configures the OS collaborators.
type PlatformConfig struct {
	ConnectivityInterval time.Duration `yaml:"connectivity_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		SIP: SIPConfig{
			Listen:        "0.0.0.0:5060",
			Credentials:   "credentials.yaml",
			Expires:       time.Hour,
			InviteTimeout: 60 * time.Second,
		},
		Session: SessionConfig{
			TerminateCheck:     20 * time.Second,
			EncryptionCheck:    12 * time.Second,
			UnregisterGrace:    5 * time.Second,
			JoinTimeout:        2 * time.Second,
			RefreshMinInterval: 10 * time.Second,
			MaxWorkerRestarts:  3,
		},
		API: APIConfig{
			Addr:        "127.0.0.1:8080",
			HealthAddr:  "127.0.0.1:9090",
			CommandRate: 120,
		},
		MQTT: MQTTConfig{
			ClientID:    "softline",
			TopicPrefix: "softline",
		},
		Audio: AudioConfig{
			SoundsDir:  "resources/sounds",
			RingerMode: "normal",
		},
		Platform: PlatformConfig{
			ConnectivityInterval: 5 * time.Second,
		},
	}
}

// Load builds the configuration from args (without the program name) and
// the environment.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("softline", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	logLevel := fs.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	call := fs.String("call", "", "Peer to call once registered")
	domain := fs.String("domain", "", "SIP domain of the account")
	registrar := fs.String("registrar", "", "SIP registrar host:port (defaults to domain:5060)")
	listen := fs.String("listen", cfg.SIP.Listen, "Local SIP UDP address")
	advertise := fs.String("advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	creds := fs.String("credentials", cfg.SIP.Credentials, "Path to the credentials file")
	apiAddr := fs.String("api", cfg.API.Addr, "HTTP API listen address")
	healthAddr := fs.String("health", cfg.API.HealthAddr, "gRPC health listen address (empty disables)")
	broker := fs.String("mqtt", "", "MQTT broker URL (empty disables)")
	callLog := fs.String("calllog", "", "Path to the call log database (empty disables)")
	audio := fs.Bool("audio", false, "Play effects on the default audio device")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath == "" {
		*configPath = os.Getenv("SOFTLINE_CONFIG")
	}
	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	apply := func(name string, dst *string, v string) {
		if set[name] {
			*dst = v
		}
	}
	apply("loglevel", &cfg.LogLevel, *logLevel)
	apply("domain", &cfg.SIP.Domain, *domain)
	apply("registrar", &cfg.SIP.Registrar, *registrar)
	apply("listen", &cfg.SIP.Listen, *listen)
	apply("advertise", &cfg.SIP.Advertise, *advertise)
	apply("credentials", &cfg.SIP.Credentials, *creds)
	apply("api", &cfg.API.Addr, *apiAddr)
	apply("health", &cfg.API.HealthAddr, *healthAddr)
	apply("mqtt", &cfg.MQTT.Broker, *broker)
	apply("calllog", &cfg.CallLog.Path, *callLog)
	if set["audio"] {
		cfg.Audio.Device = *audio
	}
	cfg.Call = strings.TrimSpace(*call)

	// Validate and fall back to auto-detection if invalid
	if cfg.SIP.Advertise == "" || !isValidAddress(cfg.SIP.Advertise) {
		cfg.SIP.Advertise = platform.PrimaryIPv4()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// applyEnv overrides settings from SOFTLINE_* variables.
func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("SOFTLINE_LOGLEVEL", &c.LogLevel)
	str("SOFTLINE_DOMAIN", &c.SIP.Domain)
	str("SOFTLINE_REGISTRAR", &c.SIP.Registrar)
	str("SOFTLINE_LISTEN", &c.SIP.Listen)
	str("SOFTLINE_ADVERTISE", &c.SIP.Advertise)
	str("SOFTLINE_CREDENTIALS", &c.SIP.Credentials)
	str("SOFTLINE_API_ADDR", &c.API.Addr)
	str("SOFTLINE_HEALTH_ADDR", &c.API.HealthAddr)
	str("SOFTLINE_MQTT_BROKER", &c.MQTT.Broker)
	str("SOFTLINE_MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)
	str("SOFTLINE_CALL_LOG", &c.CallLog.Path)
	str("SOFTLINE_SOUNDS_DIR", &c.Audio.SoundsDir)
	str("SOFTLINE_RINGER_MODE", &c.Audio.RingerMode)
	if v := os.Getenv("SOFTLINE_MAX_WORKER_RESTARTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxWorkerRestarts = n
		}
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.SIP.Domain == "" {
		errs = append(errs, errors.New("sip.domain is required"))
	}
	if _, _, err := net.SplitHostPort(c.SIP.Listen); err != nil {
		errs = append(errs, fmt.Errorf("sip.listen must be host:port, got %q", c.SIP.Listen))
	}
	if c.SIP.Registrar != "" {
		if _, _, err := net.SplitHostPort(c.SIP.Registrar); err != nil {
			errs = append(errs, fmt.Errorf("sip.registrar must be host:port, got %q", c.SIP.Registrar))
		}
	}
	if c.SIP.Credentials == "" {
		errs = append(errs, errors.New("sip.credentials is required"))
	}
	if c.API.Addr == "" {
		errs = append(errs, errors.New("api.addr is required"))
	}
	if _, err := c.Audio.Ringer(); err != nil {
		errs = append(errs, fmt.Errorf("audio.ringer_mode: %w", err))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		errs = append(errs, errors.New("mqtt.topic_prefix is required with a broker"))
	}
	for name, d := range map[string]time.Duration{
		"session.terminate_check":        c.Session.TerminateCheck,
		"session.encryption_check":       c.Session.EncryptionCheck,
		"session.unregister_grace":       c.Session.UnregisterGrace,
		"session.join_timeout":           c.Session.JoinTimeout,
		"session.refresh_min_interval":   c.Session.RefreshMinInterval,
		"platform.connectivity_interval": c.Platform.ConnectivityInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}
