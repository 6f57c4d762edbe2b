// Package journal persists one file per transaction under a flat
// directory. A write replaces the whole record atomically (temp file,
// fsync, rename, directory fsync), so replay after a crash observes either
// the prior record or the complete new one, never a torn write.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/rentald/internal/txn"
	"pkt.systems/rentald/internal/uuidv7"
)

const recordSuffix = ".json"

// Journal is a durable per-transaction context store.
type Journal struct {
	dir    string
	logger pslog.Logger
}

// New opens (creating if needed) a journal rooted at dir.
func New(dir string, logger pslog.Logger) (*Journal, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("journal: directory required")
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create %s: %w", dir, err)
	}
	return &Journal{dir: dir, logger: logger}, nil
}

// Dir returns the journal root.
func (j *Journal) Dir() string {
	return j.dir
}

func (j *Journal) recordPath(id uuid.UUID) string {
	return filepath.Join(j.dir, id.String()+recordSuffix)
}

// Write persists ctx under its transaction id, replacing any prior record.
// The record is fsync-durable before Write returns.
func (j *Journal) Write(ctx *txn.ParticipantContext) error {
	body, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", ctx.TransactionID, err)
	}
	tmpPath := filepath.Join(j.dir, ".tmp-"+uuidv7.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("journal: create temp for %s: %w", ctx.TransactionID, err)
	}
	moved := false
	defer func() {
		if !moved {
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("journal: write temp for %s: %w", ctx.TransactionID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("journal: sync temp for %s: %w", ctx.TransactionID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("journal: close temp for %s: %w", ctx.TransactionID, err)
	}
	dest := j.recordPath(ctx.TransactionID)
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("journal: rename record for %s: %w", ctx.TransactionID, err)
	}
	moved = true
	if err := syncDir(j.dir); err != nil {
		j.logger.Warn("journal.write.dir_sync_error", "txn", ctx.TransactionID, "error", err)
	}
	j.logger.Debug("journal.write", "txn", ctx.TransactionID, "state", ctx.State, "bytes", len(body))
	return nil
}

// Delete removes the record for id. A missing record is not an error.
func (j *Journal) Delete(id uuid.UUID) error {
	if err := os.Remove(j.recordPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("journal: delete record for %s: %w", id, err)
	}
	if err := syncDir(j.dir); err != nil {
		j.logger.Warn("journal.delete.dir_sync_error", "txn", id, "error", err)
	}
	j.logger.Debug("journal.delete", "txn", id)
	return nil
}

// ReadAll enumerates every record in the journal. Leftover temp files from
// an interrupted write are removed; records that fail to parse are
// reported as errors because silently skipping them would resurrect
// forgotten transactions.
func (j *Journal) ReadAll() ([]*txn.ParticipantContext, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("journal: read dir %s: %w", j.dir, err)
	}
	var contexts []*txn.ParticipantContext
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".tmp-") {
			j.logger.Debug("journal.readall.remove_orphan_temp", "name", name)
			_ = os.Remove(filepath.Join(j.dir, name))
			continue
		}
		if !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, recordSuffix))
		if err != nil {
			return nil, fmt.Errorf("journal: unexpected record name %q: %w", name, err)
		}
		body, err := os.ReadFile(filepath.Join(j.dir, name))
		if err != nil {
			return nil, fmt.Errorf("journal: read record for %s: %w", id, err)
		}
		ctx := &txn.ParticipantContext{}
		if err := json.Unmarshal(body, ctx); err != nil {
			return nil, fmt.Errorf("journal: decode record for %s: %w", id, err)
		}
		if ctx.TransactionID != id {
			return nil, fmt.Errorf("journal: record %s names transaction %s", id, ctx.TransactionID)
		}
		contexts = append(contexts, ctx)
	}
	return contexts, nil
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
