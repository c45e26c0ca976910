package condition_test

import (
	"testing"
	"time"

	"github.com/Nanguage/executor-engine/condition"
	"github.com/Nanguage/executor-engine/id"
	"github.com/Nanguage/executor-engine/job"
)

// fakeView is a ConditionView backed by a plain map.
type fakeView map[string]job.Status

func (v fakeView) JobStatus(jobID id.ID) (job.Status, bool) {
	s, ok := v[jobID.String()]
	return s, ok
}

func TestAfterAnother(t *testing.T) {
	done := id.NewJobID()
	failed := id.NewJobID()
	running := id.NewJobID()
	missing := id.NewJobID()

	view := fakeView{
		done.String():    job.StatusDone,
		failed.String():  job.StatusFailed,
		running.String(): job.StatusRunning,
	}

	tests := []struct {
		name string
		cond condition.AfterAnother
		want bool
	}{
		{"done default", condition.AfterAnother{JobID: done}, true},
		{"running default", condition.AfterAnother{JobID: running}, false},
		{"failed default", condition.AfterAnother{JobID: failed}, false},
		{"failed allowed", condition.AfterAnother{
			JobID:    failed,
			Statuses: []job.Status{job.StatusDone, job.StatusFailed},
		}, true},
		{"missing default", condition.AfterAnother{JobID: missing}, false},
		{"missing counts as failed", condition.AfterAnother{
			JobID:    missing,
			Statuses: []job.Status{job.StatusFailed},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Satisfy(view); got != tt.want {
				t.Errorf("Satisfy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAfterOthers(t *testing.T) {
	a := id.NewJobID()
	b := id.NewJobID()

	tests := []struct {
		name string
		view fakeView
		mode condition.Mode
		want bool
	}{
		{"all both done", fakeView{a.String(): job.StatusDone, b.String(): job.StatusDone}, condition.ModeAll, true},
		{"all one pending", fakeView{a.String(): job.StatusDone, b.String(): job.StatusPending}, condition.ModeAll, false},
		{"any one done", fakeView{a.String(): job.StatusDone, b.String(): job.StatusPending}, condition.ModeAny, true},
		{"any none done", fakeView{a.String(): job.StatusRunning, b.String(): job.StatusPending}, condition.ModeAny, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := condition.AfterOthers{
				JobIDs:   []id.ID{a, b},
				Statuses: []job.Status{job.StatusDone},
				Mode:     tt.mode,
			}
			if got := cond.Satisfy(tt.view); got != tt.want {
				t.Errorf("Satisfy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimepoints(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	view := fakeView{}

	if !(condition.AfterTimepoint{At: past}).Satisfy(view) {
		t.Error("AfterTimepoint in the past should be satisfied")
	}
	if (condition.AfterTimepoint{At: future}).Satisfy(view) {
		t.Error("AfterTimepoint in the future should not be satisfied")
	}
	if !(condition.BeforeTimepoint{At: future}).Satisfy(view) {
		t.Error("BeforeTimepoint in the future should be satisfied")
	}
	if (condition.BeforeTimepoint{At: past}).Satisfy(view) {
		t.Error("BeforeTimepoint in the past should not be satisfied")
	}
}

func TestCombinators(t *testing.T) {
	yes := condition.Func(func(job.ConditionView) bool { return true })
	no := condition.Func(func(job.ConditionView) bool { return false })
	view := fakeView{}

	tests := []struct {
		name string
		cond job.Condition
		want bool
	}{
		{"all true", condition.And(yes, yes), true},
		{"all one false", condition.And(yes, no), false},
		{"any one true", condition.Or(no, yes), true},
		{"any none true", condition.Or(no, no), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Satisfy(view); got != tt.want {
				t.Errorf("Satisfy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAndFlattens(t *testing.T) {
	yes := condition.Func(func(job.ConditionView) bool { return true })

	inner := condition.And(yes, yes)
	outer := condition.And(inner, yes)

	all, ok := outer.(condition.AllSatisfied)
	if !ok {
		t.Fatalf("expected AllSatisfied, got %T", outer)
	}
	if len(all.Conditions) != 3 {
		t.Errorf("expected 3 flattened conditions, got %d", len(all.Conditions))
	}
}

func TestOrFlattens(t *testing.T) {
	no := condition.Func(func(job.ConditionView) bool { return false })

	inner := condition.Or(no, no)
	outer := condition.Or(inner, no)

	anyc, ok := outer.(condition.AnySatisfied)
	if !ok {
		t.Fatalf("expected AnySatisfied, got %T", outer)
	}
	if len(anyc.Conditions) != 3 {
		t.Errorf("expected 3 flattened conditions, got %d", len(anyc.Conditions))
	}
}

func TestAndDropsNil(t *testing.T) {
	yes := condition.Func(func(job.ConditionView) bool { return true })
	got := condition.And(nil, yes)
	if _, ok := got.(condition.Func); !ok {
		t.Errorf("expected single condition back, got %T", got)
	}
}

func TestEveryPeriod(t *testing.T) {
	c := condition.Every(30 * time.Millisecond)
	view := fakeView{}

	if c.Satisfy(view) {
		t.Error("first evaluation should not be satisfied without Immediate")
	}
	if c.Satisfy(view) {
		t.Error("should not fire again within the period")
	}
	time.Sleep(40 * time.Millisecond)
	if !c.Satisfy(view) {
		t.Error("should fire after the period elapsed")
	}
	if c.Satisfy(view) {
		t.Error("should not fire twice in a row")
	}
}

func TestEveryPeriodImmediate(t *testing.T) {
	c := condition.Every(time.Hour)
	c.Immediate = true
	if !c.Satisfy(fakeView{}) {
		t.Error("Immediate condition should fire on first evaluation")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    condition.Clock
		wantErr bool
	}{
		{"12", condition.Clock{Hour: 12}, false},
		{"12:30", condition.Clock{Hour: 12, Minute: 30}, false},
		{"12:30:45", condition.Clock{Hour: 12, Minute: 30, Second: 45}, false},
		{"12:30:45:1", condition.Clock{}, true},
		{"noon", condition.Clock{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := condition.ParseClock(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseClock(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSchedule(t *testing.T) {
	c := condition.MustSchedule("@every 1h")
	view := fakeView{}

	// First evaluation arms the schedule; the next firing is an hour out.
	if c.Satisfy(view) {
		t.Error("first evaluation should arm, not fire")
	}
	if c.Satisfy(view) {
		t.Error("should not fire before the next scheduled instant")
	}
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	if _, err := condition.ParseSchedule("not a schedule"); err == nil {
		t.Error("expected error for invalid expression")
	}
}
