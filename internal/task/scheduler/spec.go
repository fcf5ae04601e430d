package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec accepts a cron expression ("*/5 * * * *", "@hourly",
// "@every 30s") or a bare Go duration ("30s", "1h").
func ParseSpec(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}
	if !strings.ContainsAny(s, " \t@") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *' or a duration like '30s')", raw)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return cron.Every(d), nil
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", raw, err)
	}
	return sched, nil
}
