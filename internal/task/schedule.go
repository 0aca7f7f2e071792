package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser accepts standard 5-field expressions (minute hour dom month dow).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a 5-field expression. Errors wrap ErrInvalidSchedule.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty cron expression", ErrInvalidSchedule)
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: inline timezones are not supported, set the scheduler timezone instead", ErrInvalidSchedule)
	}
	sched, err := CronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// NextRun returns the first occurrence strictly after from, evaluated in loc.
func NextRun(expr string, loc *time.Location, from time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return sched.Next(from.In(loc)), nil
}

// LoadLocation resolves an IANA timezone. Errors wrap ErrInvalidTimezone.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, fmt.Errorf("%w: empty timezone", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, tz, err)
	}
	return loc, nil
}

type CronValidation struct {
	Expression string      `json:"expression"`
	Valid      bool        `json:"valid"`
	Error      string      `json:"error,omitempty"`
	Timezone   string      `json:"timezone"`
	NextRuns   []time.Time `json:"nextRuns,omitempty"`
}

// ValidateCron reports whether expr parses and lists its next n occurrences.
func ValidateCron(expr string, loc *time.Location, from time.Time, n int) CronValidation {
	if loc == nil {
		loc = time.UTC
	}
	out := CronValidation{Expression: expr, Timezone: loc.String()}
	sched, err := ParseCron(expr)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Valid = true
	if n <= 0 {
		n = 5
	}
	next := from.In(loc)
	for i := 0; i < n; i++ {
		next = sched.Next(next)
		if next.IsZero() {
			break
		}
		out.NextRuns = append(out.NextRuns, next)
	}
	return out
}
