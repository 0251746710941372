package trigger

import (
	"encoding/json"
	"regexp"
	"strconv"
	"time"
)

// FallbackInterval is used when a trigger's config carries no recognizable
// schedule. Callers should log when they take this path.
const FallbackInterval = time.Hour

var everyRe = regexp.MustCompile(`(?i)^every (\d+)([smhd])$`)

// Config is the parsed form of a trigger's opaque config JSON.
type Config struct {
	EventType       string          `json:"event_type,omitempty"`
	Cron            string          `json:"cron,omitempty"`
	IntervalSeconds int64           `json:"interval_seconds,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// ParseConfig parses a trigger's config JSON. An empty or unparseable config
// yields the zero Config and false.
func ParseConfig(raw string) (Config, bool) {
	if raw == "" {
		return Config{}, false
	}
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, false
	}
	return cfg, true
}

// NextFire computes the next fire time for a schedule trigger from now.
// Supported: a cron of the form "every N{s,m,h,d}" (case-insensitive) and an
// interval_seconds field. Anything else falls back to FallbackInterval; the
// second return reports whether the schedule was recognized.
func (c Config) NextFire(now time.Time) (time.Time, bool) {
	if d, ok := parseEvery(c.Cron); ok {
		return now.Add(d), true
	}
	if c.IntervalSeconds > 0 {
		return now.Add(time.Duration(c.IntervalSeconds) * time.Second), true
	}
	return now.Add(FallbackInterval), false
}

// parseEvery parses "every N{s,m,h,d}" into a duration.
func parseEvery(cron string) (time.Duration, bool) {
	m := everyRe.FindStringSubmatch(cron)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	var unit time.Duration
	switch m[2][0] | 0x20 { // lowercase
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, true
}
