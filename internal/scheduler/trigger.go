package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrNoTrigger   = errors.New("job needs a cron spec or a positive interval")
	ErrBadCronSpec = errors.New("cron spec must have five fields")
	ErrBadTimezone = errors.New("unknown timezone")
)

// Trigger yields successive fire times. Implementations are immutable.
type Trigger interface {
	// Next returns the first fire time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

type cronTrigger struct {
	spec     string
	schedule cron.Schedule
	loc      *time.Location
}

func (c *cronTrigger) Next(t time.Time) time.Time {
	return c.schedule.Next(t.In(c.loc)).UTC()
}

func (c *cronTrigger) String() string {
	return fmt.Sprintf("cron(%s @ %s)", c.spec, c.loc)
}

type intervalTrigger struct {
	every time.Duration
}

func (i *intervalTrigger) Next(t time.Time) time.Time {
	return t.Add(i.every).UTC()
}

func (i *intervalTrigger) String() string {
	return fmt.Sprintf("every(%s)", i.every)
}

// buildTrigger validates the definition and compiles its trigger. Cron specs
// are classic five-field expressions evaluated in the job's timezone;
// descriptor forms (@daily and friends) are rejected.
func buildTrigger(def JobDefinition, defaultTZ string) (Trigger, error) {
	tz := strings.TrimSpace(def.Timezone)
	if tz == "" {
		tz = defaultTZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadTimezone, tz)
	}

	if spec := strings.TrimSpace(def.CronSpec); spec != "" {
		if len(strings.Fields(spec)) != 5 || strings.HasPrefix(spec, "@") {
			return nil, fmt.Errorf("%w: %q", ErrBadCronSpec, spec)
		}
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadCronSpec, spec, err)
		}
		return &cronTrigger{spec: spec, schedule: schedule, loc: loc}, nil
	}

	if def.IntervalMinutes > 0 {
		return &intervalTrigger{every: time.Duration(def.IntervalMinutes) * time.Minute}, nil
	}
	return nil, ErrNoTrigger
}
