package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Transport TransportConfig `json:"transport"`
	Campaign  CampaignConfig  `json:"campaign"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Daemon    DaemonConfig    `json:"daemon,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

// TransportConfig selects the messaging backend.
//
// Example:
//
//	"transport": { "driver": "telegram", "operator": "123456789" }
//
// The token may be omitted from the file and provided through
// CAMPAIGN_TELEGRAM_TOKEN (or a .env file next to the config).
type TransportConfig struct {
	Driver string `json:"driver"`          // telegram | dryrun
	Token  string `json:"token,omitempty"` // never logged
	// Operator receives the completion report. Empty disables reporting.
	Operator string `json:"operator,omitempty"`
	// RequestTimeout is a Go duration string bounding each API call.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// CampaignConfig controls one campaign pass.
//
// Defaults (when fields are omitted/zero):
//   - pacing_min: "20s", pacing_max: "60s"
//   - max_retries: 3, retry_delay: "2s"
//   - run_id_layout: "2006-01-02", timezone: "Local"
//   - retry_failed: false (failures are sticky within a run)
type CampaignConfig struct {
	RecipientsFile string        `json:"recipients_file"`
	Message        MessageConfig `json:"message"`

	PacingMin  string `json:"pacing_min,omitempty"`
	PacingMax  string `json:"pacing_max,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`

	RunIDLayout string `json:"run_id_layout,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	RetryFailed bool   `json:"retry_failed,omitempty"`
}

// MessageConfig describes the outbound message. Either Text or Phrases must
// be set; Phrases wins when both are present.
type MessageConfig struct {
	Text    string   `json:"text,omitempty"`
	Phrases []string `json:"phrases,omitempty"`
	Emojis  []string `json:"emojis,omitempty"`
	Link    string   `json:"link,omitempty"`
	Image   string   `json:"image,omitempty"`
}

// StorageConfig controls where ledgers are checkpointed.
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Operator LoggingOperator `json:"operator"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOperator forwards log lines at or above MinLevel to the operator.
type LoggingOperator struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type DaemonConfig struct {
	// Schedule is a standard 5-field cron spec (or a descriptor like "@daily").
	Schedule    string `json:"schedule,omitempty"`
	WatchConfig bool   `json:"watch_config,omitempty"`
}

// MetricsConfig controls the HTTP listener serving /metrics and /healthz.
// Prefer a loopback address; Pprof additionally mounts /debug/pprof/.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Pprof   bool   `json:"pprof,omitempty"`
}

const (
	DefaultPacingMin    = 20 * time.Second
	DefaultPacingMax    = 60 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultRunIDLayout  = "2006-01-02"
	DefaultStoragePath  = "./data"
	DefaultMetricsAddr  = "127.0.0.1:9464"
	DefaultRecipients   = "contacts.json"
	DefaultSchedule     = "0 9 * * *"
	defaultLogLevel     = "info"
	defaultOperatorRate = 1
)

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Transport.Driver) == "" {
		c.Transport.Driver = "telegram"
	}
	if strings.TrimSpace(c.Campaign.RecipientsFile) == "" {
		c.Campaign.RecipientsFile = DefaultRecipients
	}
	if c.Campaign.MaxRetries <= 0 {
		c.Campaign.MaxRetries = DefaultMaxRetries
	}
	if strings.TrimSpace(c.Campaign.RunIDLayout) == "" {
		c.Campaign.RunIDLayout = DefaultRunIDLayout
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Operator.RatePerSec <= 0 {
		c.Logging.Operator.RatePerSec = defaultOperatorRate
	}
	if strings.TrimSpace(c.Daemon.Schedule) == "" {
		c.Daemon.Schedule = DefaultSchedule
	}
	if strings.TrimSpace(c.Metrics.Addr) == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
}

// CampaignSettings is the parsed form of CampaignConfig.
type CampaignSettings struct {
	PacingMin   time.Duration
	PacingMax   time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	RunIDLayout string
	Location    *time.Location
	RetryFailed bool
}

// RunID formats t in the campaign timezone with the configured layout.
func (s CampaignSettings) RunID(t time.Time) string {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	layout := s.RunIDLayout
	if layout == "" {
		layout = DefaultRunIDLayout
	}
	return t.In(loc).Format(layout)
}

// Settings parses durations and the timezone. A missing retry_delay means
// the default; an explicit "0s" disables the delay.
func (c CampaignConfig) Settings() (CampaignSettings, error) {
	var errs []error
	s := CampaignSettings{
		MaxRetries:  c.MaxRetries,
		RunIDLayout: c.RunIDLayout,
		RetryFailed: c.RetryFailed,
	}
	d := durations{section: "campaign"}
	s.PacingMin = d.get("pacing_min", c.PacingMin, DefaultPacingMin)
	s.PacingMax = d.get("pacing_max", c.PacingMax, DefaultPacingMax)
	s.RetryDelay = d.get("retry_delay", c.RetryDelay, DefaultRetryDelay)
	if err := d.err(); err != nil {
		errs = append(errs, err)
	}
	if s.PacingMin > s.PacingMax {
		errs = append(errs, fmt.Errorf("campaign.pacing_min (%s) must be <= pacing_max (%s)", s.PacingMin, s.PacingMax))
	}
	if s.RetryDelay > 0 && s.RetryDelay >= s.PacingMin {
		errs = append(errs, fmt.Errorf("campaign.retry_delay (%s) must be shorter than pacing_min (%s)", s.RetryDelay, s.PacingMin))
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.RunIDLayout == "" {
		s.RunIDLayout = DefaultRunIDLayout
	}
	tz := strings.TrimSpace(c.Timezone)
	switch tz {
	case "", "Local":
		s.Location = time.Local
	default:
		loc, lerr := time.LoadLocation(tz)
		if lerr != nil {
			errs = append(errs, fmt.Errorf("campaign.timezone: %w", lerr))
		} else {
			s.Location = loc
		}
	}
	return s, errors.Join(errs...)
}

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.Transport.Driver)) {
	case "telegram":
		if strings.TrimSpace(c.Transport.Token) == "" {
			errs = append(errs, errors.New("transport.token is required for the telegram driver (or set "+EnvTelegramToken+")"))
		}
	case "dryrun":
	default:
		errs = append(errs, fmt.Errorf("transport.driver: unknown driver %q", c.Transport.Driver))
	}
	if _, err := c.Transport.Timeout(); err != nil {
		errs = append(errs, err)
	}

	msg := c.Campaign.Message
	if strings.TrimSpace(msg.Text) == "" && len(msg.Phrases) == 0 {
		errs = append(errs, errors.New("campaign.message: text or phrases is required"))
	}
	if _, err := c.Campaign.Settings(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := c.Storage.Busy(); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when logging.file.enabled"))
	}
	return errors.Join(errs...)
}
