package condition

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/Nanguage/executor-engine/job"
)

// EveryPeriod is satisfied once per period. It keeps its own last-fire
// timestamp, so one value gates one recurring job; do not share an
// instance across jobs.
type EveryPeriod struct {
	Period time.Duration

	// Immediate satisfies the first evaluation instead of waiting a
	// full period.
	Immediate bool

	mu   sync.Mutex
	last time.Time
}

// Every creates a period condition.
func Every(period time.Duration) *EveryPeriod {
	return &EveryPeriod{Period: period}
}

// Satisfy implements job.Condition.
func (c *EveryPeriod) Satisfy(job.ConditionView) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.last.IsZero() {
		c.last = now
		return c.Immediate
	}
	if now.Sub(c.last) >= c.Period {
		c.last = now
		return true
	}
	return false
}

// Clock is a time of day.
type Clock struct {
	Hour, Minute, Second int
}

// ParseClock parses "15", "15:04", or "15:04:05".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return Clock{}, fmt.Errorf("condition: parse clock %q: too many fields", s)
	}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Clock{}, fmt.Errorf("condition: parse clock %q: %w", s, err)
		}
		fields[i] = n
	}
	return Clock{Hour: fields[0], Minute: fields[1], Second: fields[2]}, nil
}

// MustClock is like ParseClock but panics on error. Use for literals.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) secondOfDay() int {
	return c.Hour*3600 + c.Minute*60 + c.Second
}

func secondOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// AfterClock is satisfied from the given time of day onward.
type AfterClock struct {
	Clock Clock
}

// Satisfy implements job.Condition.
func (c AfterClock) Satisfy(job.ConditionView) bool {
	return secondOfDay(time.Now()) >= c.Clock.secondOfDay()
}

// BeforeClock is satisfied until the given time of day.
type BeforeClock struct {
	Clock Clock
}

// Satisfy implements job.Condition.
func (c BeforeClock) Satisfy(job.ConditionView) bool {
	return secondOfDay(time.Now()) <= c.Clock.secondOfDay()
}

// BetweenClocks is satisfied within the daily window [Start, End].
func BetweenClocks(start, end Clock) job.Condition {
	return And(AfterClock{Clock: start}, BeforeClock{Clock: end})
}

// AfterWeekday is satisfied from the given weekday onward (Sunday = 0,
// per time.Weekday).
type AfterWeekday struct {
	Weekday time.Weekday
}

// Satisfy implements job.Condition.
func (c AfterWeekday) Satisfy(job.ConditionView) bool {
	return time.Now().Weekday() >= c.Weekday
}

// BeforeWeekday is satisfied until the given weekday.
type BeforeWeekday struct {
	Weekday time.Weekday
}

// Satisfy implements job.Condition.
func (c BeforeWeekday) Satisfy(job.ConditionView) bool {
	return time.Now().Weekday() <= c.Weekday
}

// BetweenTimepoints is satisfied within [start, end].
func BetweenTimepoints(start, end time.Time) job.Condition {
	return And(AfterTimepoint{At: start}, BeforeTimepoint{At: end})
}

// cronParser accepts standard 5-field expressions plus descriptors
// like "@every 30s" and "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Schedule is satisfied at each firing instant of a cron expression.
// Like EveryPeriod it tracks its next firing time internally, so one
// value gates one recurring job.
type Schedule struct {
	expr  string
	sched cronlib.Schedule

	mu   sync.Mutex
	next time.Time
}

// ParseSchedule parses a cron expression (e.g. "*/5 * * * *" or
// "@every 30s") into a schedule condition.
func ParseSchedule(expr string) (*Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("condition: parse schedule %q: %w", expr, err)
	}
	return &Schedule{expr: expr, sched: sched}, nil
}

// MustSchedule is like ParseSchedule but panics on error.
func MustSchedule(expr string) *Schedule {
	s, err := ParseSchedule(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Expr returns the schedule's cron expression.
func (c *Schedule) Expr() string { return c.expr }

// Satisfy implements job.Condition.
func (c *Schedule) Satisfy(job.ConditionView) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.next.IsZero() {
		c.next = c.sched.Next(now)
		return false
	}
	if now.Before(c.next) {
		return false
	}
	c.next = c.sched.Next(now)
	return true
}
