package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Nanguage/executor-engine/job"
)

// Record is the persisted form of a job: identity, status, timestamps,
// and — when transport-serializable — arguments and result. The on-disk
// format is msgpack and is not a compatibility surface.
type Record struct {
	ID        string        `msgpack:"id"`
	Name      string        `msgpack:"name"`
	Kind      string        `msgpack:"kind"`
	Status    string        `msgpack:"status"`
	Attempts  int           `msgpack:"attempts"`
	CreatedAt time.Time     `msgpack:"created_at"`
	StartedAt time.Time     `msgpack:"started_at,omitempty"`
	StoppedAt time.Time     `msgpack:"stopped_at,omitempty"`
	Args      []byte        `msgpack:"args,omitempty"`
	Result    []byte        `msgpack:"result,omitempty"`
	Error     string        `msgpack:"error,omitempty"`
	Retry     time.Duration `msgpack:"retry,omitempty"`
}

// Capture builds a Record from a job. Future arguments are recorded as
// their producer's job ID; arguments and results that msgpack cannot
// encode are omitted rather than failing the snapshot.
func Capture(j *job.Job) *Record {
	r := &Record{
		ID:        j.ID().String(),
		Name:      j.Name(),
		Kind:      string(j.Kind()),
		Status:    string(j.Status()),
		Attempts:  j.Attempts(),
		CreatedAt: j.CreatedAt(),
		StartedAt: j.StartedAt(),
		StoppedAt: j.StoppedAt(),
		Retry:     j.RetryDelay(),
	}

	if data, err := msgpack.Marshal(plainArgs(j.Args())); err == nil {
		r.Args = data
	}

	if res, err, done := j.Future().TryResult(); done {
		if err != nil {
			r.Error = err.Error()
		} else if data, mErr := msgpack.Marshal(res); mErr == nil {
			r.Result = data
		}
	}

	return r
}

// plainArgs replaces future arguments with their producer's job ID so
// the dependency edge survives serialization.
func plainArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if f, ok := a.(*job.Future); ok {
			out[i] = "future:" + f.JobID().String()
			continue
		}
		out[i] = a
	}
	return out
}

// Encode serializes a record to msgpack bytes.
func (r *Record) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("store: encode record %s: %w", r.ID, err)
	}
	return data, nil
}

// DecodeRecord deserializes msgpack bytes into a record.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	return &r, nil
}

// Snapshotter persists job records. Implementations: Disk, Redis.
// Saves are best-effort; the engine logs and continues on error.
type Snapshotter interface {
	// Save persists a record, replacing any previous snapshot of the job.
	Save(ctx context.Context, r *Record) error

	// Load retrieves the snapshot for a job ID.
	Load(ctx context.Context, jobID string) (*Record, error)

	// Delete removes a job's snapshot.
	Delete(ctx context.Context, jobID string) error

	// List returns the job IDs with snapshots.
	List(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}
