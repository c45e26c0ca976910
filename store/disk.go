package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	executor "github.com/Nanguage/executor-engine"
)

// snapshotFile is the record file name inside each job's directory.
const snapshotFile = "job.msgpack"

var _ Snapshotter = (*Disk)(nil)

// Disk persists job records under dir/<job-id>/job.msgpack. JobDir
// exposes the per-job directory; Disk itself writes only the snapshot
// file there.
type Disk struct {
	dir string
}

// NewDisk creates a disk snapshotter rooted at dir, creating it if needed.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create snapshot dir %q: %w", dir, err)
	}
	return &Disk{dir: dir}, nil
}

// Dir returns the snapshot root directory.
func (d *Disk) Dir() string { return d.dir }

// JobDir returns (and creates) the per-job directory.
func (d *Disk) JobDir(jobID string) (string, error) {
	path := filepath.Join(d.dir, jobID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("store: create job dir %q: %w", path, err)
	}
	return path, nil
}

// Save implements Snapshotter.
func (d *Disk) Save(_ context.Context, r *Record) error {
	dir, err := d.JobDir(r.ID)
	if err != nil {
		return err
	}
	data, err := r.Encode()
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a torn snapshot.
	tmp := filepath.Join(dir, snapshotFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write snapshot for %s: %w", r.ID, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, snapshotFile)); err != nil {
		return fmt.Errorf("store: publish snapshot for %s: %w", r.ID, err)
	}
	return nil
}

// Load implements Snapshotter.
func (d *Disk) Load(_ context.Context, jobID string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, jobID, snapshotFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, executor.ErrJobNotFound
		}
		return nil, fmt.Errorf("store: read snapshot for %s: %w", jobID, err)
	}
	return DecodeRecord(data)
}

// Delete implements Snapshotter.
func (d *Disk) Delete(_ context.Context, jobID string) error {
	if err := os.RemoveAll(filepath.Join(d.dir, jobID)); err != nil {
		return fmt.Errorf("store: delete snapshot for %s: %w", jobID, err)
	}
	return nil
}

// List implements Snapshotter.
func (d *Disk) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Close implements Snapshotter. No-op for the disk backend.
func (d *Disk) Close() error { return nil }
