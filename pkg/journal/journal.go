// Package journal persists the checkpoint of the single in-flight transfer so
// that a restarted relayer resumes after the last step that succeeded.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/creachadair/atomicfile"
)

// FormatVersion is written into every journal file.
const FormatVersion = 1

var (
	// ErrCorrupt is returned by Load when the journal exists but cannot be decoded.
	ErrCorrupt = errors.New("journal corrupt")
	// ErrStageRegression is returned by Record for a stage earlier than the last recorded one.
	ErrStageRegression = errors.New("stage regression")
	// ErrRequestMismatch means the journal belongs to a different transfer request.
	ErrRequestMismatch = errors.New("journal belongs to a different transfer")
)

// Journal abstracts checkpoint persistence for one transfer. It is the only
// persistent state of the relayer.
type Journal interface {
	// Load returns the last recorded checkpoint, or nil when none exists.
	Load(ctx context.Context) (*Checkpoint, error)

	// Record validates cp and atomically replaces the stored checkpoint with it.
	// Recording a stage earlier than the last one fails with ErrStageRegression.
	Record(ctx context.Context, cp *Checkpoint) error

	// Delete removes the journal. A missing journal is not an error.
	Delete(ctx context.Context) error
}

type fileRecord struct {
	Version int `json:"version"`
	Checkpoint
}

// FileJournal stores the checkpoint as a single JSON file, overwritten on every
// Record. Concurrent processes sharing one path are not supported.
type FileJournal struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	last Stage
}

var _ Journal = (*FileJournal)(nil)

func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path, now: time.Now}
}

func (j *FileJournal) Path() string {
	return j.path
}

func (j *FileJournal) Load(ctx context.Context) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		j.last = StageNone
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", j.path, err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, j.path, err)
	}
	if rec.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, j.path, rec.Version)
	}
	if err := rec.Checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, j.path, err)
	}

	cp := rec.Checkpoint
	j.last = cp.Stage
	return &cp, nil
}

func (j *FileJournal) Record(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp == nil {
		return errors.New("nil checkpoint")
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid %s checkpoint: %w", cp.Stage, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if cp.Stage.Index() < j.last.Index() {
		return fmt.Errorf("%w: cannot record %s after %s", ErrStageRegression, cp.Stage, j.last)
	}

	cp.RecordedAt = j.now().UTC()
	data, err := json.MarshalIndent(fileRecord{Version: FormatVersion, Checkpoint: *cp}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	if _, err := atomicfile.WriteAll(j.path, bytes.NewReader(data), 0o600); err != nil {
		return fmt.Errorf("write journal %s: %w", j.path, err)
	}
	j.last = cp.Stage
	return nil
}

func (j *FileJournal) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove journal %s: %w", j.path, err)
	}
	j.last = StageNone
	return nil
}

// Quarantine moves an undecodable journal aside and returns its new path, so
// the next Load starts from an empty checkpoint without destroying evidence.
func (j *FileJournal) Quarantine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	dst := fmt.Sprintf("%s.corrupt-%d", j.path, j.now().Unix())
	if err := os.Rename(j.path, dst); err != nil {
		return "", fmt.Errorf("quarantine journal %s: %w", j.path, err)
	}
	j.last = StageNone
	return dst, nil
}
