package config

import (
	"reflect"
	"sort"
	"strings"

	logx "campaignbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Transport, newCfg.Transport
	if ot.Driver != nt.Driver || ot.Operator != nt.Operator || ot.RequestTimeout != nt.RequestTimeout || ot.Token != nt.Token {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", nt.Driver),
			logx.Bool("transport.operator_set", strings.TrimSpace(nt.Operator) != ""),
			logx.Bool("transport.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Campaign, newCfg.Campaign) {
		c := newCfg.Campaign
		changed = append(changed, "campaign")
		attrs = append(attrs,
			logx.String("campaign.pacing_min", c.PacingMin),
			logx.String("campaign.pacing_max", c.PacingMax),
			logx.Int("campaign.max_retries", c.MaxRetries),
			logx.String("campaign.retry_delay", c.RetryDelay),
			logx.Bool("campaign.retry_failed", c.RetryFailed),
			logx.Bool("campaign.message_changed", !reflect.DeepEqual(oldCfg.Campaign.Message, c.Message)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.operator_enabled", newCfg.Logging.Operator.Enabled),
		)
	}

	if oldCfg.Daemon != newCfg.Daemon {
		changed = append(changed, "daemon")
		attrs = append(attrs, logx.String("daemon.schedule", newCfg.Daemon.Schedule))
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports sections that a running daemon cannot apply live.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "transport", "storage", "metrics", "daemon":
			out = append(out, s)
		}
	}
	return out
}

// LogConfig maps the logging section onto the logx service config.
func (c LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Operator: logx.OperatorConfig{
			Enabled:    c.Operator.Enabled,
			MinLevel:   c.Operator.MinLevel,
			RatePerSec: c.Operator.RatePerSec,
		},
	}
}
