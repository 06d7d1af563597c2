package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

// Config is the full server configuration.
type Config struct {
	Mode Mode `mapstructure:"mode"`

	Server      ServerConfig      `mapstructure:"server"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Escalation  EscalationConfig  `mapstructure:"escalation"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	AWS         AWSConfig         `mapstructure:"aws"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// PublicBaseURL prefixes websocket_url in create-room responses; empty keeps URLs relative.
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RegistryConfig struct {
	// MaxSessions caps live (non-terminal) sessions of all kinds. 0 disables the cap.
	MaxSessions     int           `mapstructure:"max_sessions"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ReapInterval    time.Duration `mapstructure:"reap_interval"`
	ClosedRetention time.Duration `mapstructure:"closed_retention"`
}

type NegotiationConfig struct {
	ReasoningTimeout  time.Duration `mapstructure:"reasoning_timeout"`
	QueueSize         int           `mapstructure:"queue_size"`
	ObserverBuffer    int           `mapstructure:"observer_buffer"`
	LiveCards         int           `mapstructure:"live_cards"`
	MinStatementChars int           `mapstructure:"min_statement_chars"`
	InitialScore      int           `mapstructure:"initial_score"`
	ContextWindow     int           `mapstructure:"context_window"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
}

type EscalationConfig struct {
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	// StepPause is a delay between steps so live viewers can follow along.
	StepPause       time.Duration `mapstructure:"step_pause"`
	DemoMode        bool          `mapstructure:"demo_mode"`
	DemoDelay       time.Duration `mapstructure:"demo_delay"`
	SenderEmail     string        `mapstructure:"sender_email"`
	TestPhoneNumber string        `mapstructure:"test_phone_number"`
	SubscriberBuf   int           `mapstructure:"subscriber_buffer"`
	DefaultType     string        `mapstructure:"default_type"`
	// PlaybooksFile replaces the built-in playbooks when set.
	PlaybooksFile string `mapstructure:"playbooks_file"`
}

type LLMConfig struct {
	// Provider is "mock", "vertex" or "gemini".
	Provider      string `mapstructure:"provider"`
	GCPProjectID  string `mapstructure:"gcp_project"`
	GCPLocation   string `mapstructure:"gcp_location"`
	ModelName     string `mapstructure:"model_name"`
	FallbackModel string `mapstructure:"fallback_model"`
	APIKey        string `mapstructure:"api_key"`
	VideoModel    string `mapstructure:"video_model"`
	AudioMIMEType string `mapstructure:"audio_mime_type"`
}

type ArchiveConfig struct {
	// Backend is "none", "memory" or "firestore".
	Backend      string `mapstructure:"backend"`
	GCPProjectID string `mapstructure:"gcp_project"`
	MaxRecords   int    `mapstructure:"max_records"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a Config with the values used when nothing is configured.
func Default() *Config {
	return &Config{
		Mode: ModeLocal,
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Registry: RegistryConfig{
			MaxSessions:     1000,
			IdleTimeout:     30 * time.Minute,
			ReapInterval:    time.Minute,
			ClosedRetention: 10 * time.Minute,
		},
		Negotiation: NegotiationConfig{
			ReasoningTimeout:  10 * time.Second,
			QueueSize:         64,
			ObserverBuffer:    32,
			LiveCards:         5,
			MinStatementChars: 10,
			InitialScore:      50,
			ContextWindow:     10,
			TranscribeTimeout: 30 * time.Second,
		},
		Escalation: EscalationConfig{
			ActionTimeout:   20 * time.Second,
			StepPause:       500 * time.Millisecond,
			DemoMode:        true,
			DemoDelay:       1500 * time.Millisecond,
			SenderEmail:     "cases@equalizer.invalid",
			TestPhoneNumber: "+10000000000",
			SubscriberBuf:   64,
			DefaultType:     "standard",
		},
		LLM: LLMConfig{
			Provider:      "mock",
			GCPLocation:   "us-central1",
			ModelName:     "gemini-2.5-flash-lite",
			VideoModel:    "veo-2.0-generate-001",
			AudioMIMEType: "audio/webm",
		},
		Archive: ArchiveConfig{
			Backend:    "memory",
			MaxRecords: 1000,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers default values with v so env-only setups still unmarshal fully.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("mode", string(d.Mode))

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.public_base_url", d.Server.PublicBaseURL)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("registry.max_sessions", d.Registry.MaxSessions)
	v.SetDefault("registry.idle_timeout", d.Registry.IdleTimeout)
	v.SetDefault("registry.reap_interval", d.Registry.ReapInterval)
	v.SetDefault("registry.closed_retention", d.Registry.ClosedRetention)

	v.SetDefault("negotiation.reasoning_timeout", d.Negotiation.ReasoningTimeout)
	v.SetDefault("negotiation.queue_size", d.Negotiation.QueueSize)
	v.SetDefault("negotiation.observer_buffer", d.Negotiation.ObserverBuffer)
	v.SetDefault("negotiation.live_cards", d.Negotiation.LiveCards)
	v.SetDefault("negotiation.min_statement_chars", d.Negotiation.MinStatementChars)
	v.SetDefault("negotiation.initial_score", d.Negotiation.InitialScore)
	v.SetDefault("negotiation.context_window", d.Negotiation.ContextWindow)
	v.SetDefault("negotiation.transcribe_timeout", d.Negotiation.TranscribeTimeout)

	v.SetDefault("escalation.action_timeout", d.Escalation.ActionTimeout)
	v.SetDefault("escalation.step_pause", d.Escalation.StepPause)
	v.SetDefault("escalation.demo_mode", d.Escalation.DemoMode)
	v.SetDefault("escalation.demo_delay", d.Escalation.DemoDelay)
	v.SetDefault("escalation.sender_email", d.Escalation.SenderEmail)
	v.SetDefault("escalation.test_phone_number", d.Escalation.TestPhoneNumber)
	v.SetDefault("escalation.subscriber_buffer", d.Escalation.SubscriberBuf)
	v.SetDefault("escalation.default_type", d.Escalation.DefaultType)
	v.SetDefault("escalation.playbooks_file", d.Escalation.PlaybooksFile)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.gcp_project", d.LLM.GCPProjectID)
	v.SetDefault("llm.gcp_location", d.LLM.GCPLocation)
	v.SetDefault("llm.model_name", d.LLM.ModelName)
	v.SetDefault("llm.fallback_model", d.LLM.FallbackModel)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.video_model", d.LLM.VideoModel)
	v.SetDefault("llm.audio_mime_type", d.LLM.AudioMIMEType)

	v.SetDefault("archive.backend", d.Archive.Backend)
	v.SetDefault("archive.gcp_project", d.Archive.GCPProjectID)
	v.SetDefault("archive.max_records", d.Archive.MaxRecords)

	v.SetDefault("aws.region", d.AWS.Region)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// New returns a viper instance wired for EQUALIZER_* env overrides,
// e.g. EQUALIZER_NEGOTIATION_REASONING_TIMEOUT for negotiation.reasoning_timeout.
// An empty path searches ./equalizer.yaml and /etc/equalizer/equalizer.yaml.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("equalizer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/equalizer")
	}

	v.SetEnvPrefix("EQUALIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (optional unless path is explicit), env and defaults.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || v.ConfigFileUsed() != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeLocal, ModeGCP:
	default:
		errs = append(errs, fmt.Errorf("mode: unknown value %q", c.Mode))
	}

	switch c.LLM.Provider {
	case "mock":
	case "vertex":
		if c.LLM.GCPProjectID == "" {
			errs = append(errs, errors.New("llm.gcp_project must be set for the vertex provider"))
		}
	case "gemini":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key must be set for the gemini provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown value %q", c.LLM.Provider))
	}

	switch c.Archive.Backend {
	case "none", "memory":
	case "firestore":
		if c.Archive.GCPProjectID == "" {
			errs = append(errs, errors.New("archive.gcp_project must be set for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend: unknown value %q", c.Archive.Backend))
	}

	if c.Negotiation.ReasoningTimeout <= 0 {
		errs = append(errs, errors.New("negotiation.reasoning_timeout must be positive"))
	}
	if c.Escalation.ActionTimeout <= 0 {
		errs = append(errs, errors.New("escalation.action_timeout must be positive"))
	}
	if c.Negotiation.QueueSize <= 0 {
		errs = append(errs, errors.New("negotiation.queue_size must be positive"))
	}
	// rooms treat 0 as "use the default", so it cannot be configured
	if c.Negotiation.InitialScore < 1 || c.Negotiation.InitialScore > 100 {
		errs = append(errs, errors.New("negotiation.initial_score must be within [1,100]"))
	}

	return errors.Join(errs...)
}

// Watch calls onChange with the re-read config whenever the config file changes.
// Invalid edits are reported through onError and otherwise ignored.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onError(fmt.Errorf("decoding %s: %w", e.Name, err))
			return
		}
		if err := cfg.Validate(); err != nil {
			onError(fmt.Errorf("validating %s: %w", e.Name, err))
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
}
