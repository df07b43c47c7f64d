package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrBadSchedule is returned for cron expressions the scheduler rejects.
var ErrBadSchedule = errors.New("bad schedule")

// Schedules use the classic five fields: minute, hour, day of month,
// month, day of week. Descriptors such as @daily are accepted too.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a UTC cron expression. Timezone prefixes are
// rejected so that every schedule means the same thing on every host.
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrBadSchedule)
	}
	if upper := strings.ToUpper(clean); strings.HasPrefix(upper, "CRON_TZ=") || strings.HasPrefix(upper, "TZ=") {
		return nil, fmt.Errorf("%w: %q has a timezone prefix; schedules are UTC", ErrBadSchedule, clean)
	}
	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchedule, err)
	}
	return schedule, nil
}

// NextRuns returns the next n activations of expr after now, in UTC.
func NextRuns(expr string, now time.Time, n int) ([]time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := now.UTC()
	for i := 0; i < n; i++ {
		t = schedule.Next(t)
		out = append(out, t)
	}
	return out, nil
}
