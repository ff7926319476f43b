package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultBusyTimeout    = time.Second
)

// durations reads the duration fields of one config section. A blank field
// takes its default; an explicit "0s" is kept. Every malformed field is
// collected so Validate reports them together.
type durations struct {
	section string
	errs    []error
}

func (d *durations) get(key, raw string, def time.Duration) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	switch {
	case err != nil:
		d.errs = append(d.errs, fmt.Errorf("%s.%s: %q is not a duration (e.g. 20s, 1m30s)", d.section, key, raw))
		return def
	case v < 0:
		d.errs = append(d.errs, fmt.Errorf("%s.%s: %s is negative", d.section, key, s))
		return def
	}
	return v
}

func (d *durations) err() error { return errors.Join(d.errs...) }

// Timeout is the per-request transport timeout; zero means the default.
func (c TransportConfig) Timeout() (time.Duration, error) {
	d := durations{section: "transport"}
	v := d.get("request_timeout", c.RequestTimeout, DefaultRequestTimeout)
	if v == 0 {
		v = DefaultRequestTimeout
	}
	return v, d.err()
}

// Busy is the sqlite busy timeout; zero means the default.
func (c StorageConfig) Busy() (time.Duration, error) {
	d := durations{section: "storage"}
	v := d.get("busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
	if v == 0 {
		v = DefaultBusyTimeout
	}
	return v, d.err()
}
