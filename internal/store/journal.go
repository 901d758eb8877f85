package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/user/activitytracker/internal/types"
)

// BatchApplier writes a batch of ops atomically.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, ops []Op) error
}

// Journal is the on-disk recovery journal. Each batch that could not be
// flushed is written as one JSONL file under dir; Replay re-applies the files
// oldest first and removes them on success.
type Journal struct {
	fs       afero.Fs
	dir      string
	maxBytes int64
	mu       sync.Mutex
	seq      atomic.Uint64
}

func NewJournal(fs afero.Fs, dir string, maxBytes int64) *Journal {
	return &Journal{fs: fs, dir: dir, maxBytes: maxBytes}
}

// Write appends batch as a new journal file and returns its path. It fails
// with types.ErrJournalFull once the journal would exceed maxBytes.
func (j *Journal) Write(queue string, batch []Op) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return "", fmt.Errorf("encode journal op: %w", err)
		}
	}

	used, err := j.size()
	if err != nil {
		return "", err
	}
	if j.maxBytes > 0 && used+int64(buf.Len()) > j.maxBytes {
		return "", fmt.Errorf("%w: %d of %d bytes used", types.ErrJournalFull, used, j.maxBytes)
	}

	if err := j.fs.MkdirAll(j.dir, 0o755); err != nil {
		return "", fmt.Errorf("create journal dir: %w", err)
	}
	name := fmt.Sprintf("%020d-%06d-%s.jsonl", time.Now().UTC().UnixNano(), j.seq.Add(1)%1_000_000, queue)
	path := filepath.Join(j.dir, name)
	tmp := path + ".tmp"
	if err := afero.WriteFile(j.fs, tmp, []byte(buf.String()), 0o644); err != nil {
		return "", fmt.Errorf("write journal: %w", err)
	}
	if err := j.fs.Rename(tmp, path); err != nil {
		j.fs.Remove(tmp)
		return "", fmt.Errorf("rename journal: %w", err)
	}
	return path, nil
}

// size sums the journal files. Caller must hold mu.
func (j *Journal) size() (int64, error) {
	infos, err := afero.ReadDir(j.fs, j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read journal dir: %w", err)
	}
	var total int64
	for _, fi := range infos {
		total += fi.Size()
	}
	return total, nil
}

// Pending lists journal files oldest first.
func (j *Journal) Pending() ([]string, error) {
	infos, err := afero.ReadDir(j.fs, j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal dir: %w", err)
	}
	var files []string
	for _, fi := range infos {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(j.dir, fi.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (j *Journal) read(path string) ([]Op, error) {
	f, err := j.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	var ops []Op
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var op Op
		if err := json.Unmarshal(line, &op); err != nil {
			return nil, fmt.Errorf("decode journal op in %s: %w", filepath.Base(path), err)
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal file: %w", err)
	}
	return ops, nil
}

// PendingFor lists the files journaled by queue, oldest first.
func (j *Journal) PendingFor(queue string) ([]string, error) {
	files, err := j.Pending()
	if err != nil {
		return nil, err
	}
	suffix := "-" + queue + ".jsonl"
	out := files[:0]
	for _, f := range files {
		if strings.HasSuffix(f, suffix) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Replay applies every pending file in order and returns the number of ops
// written. It stops at the first file that fails, leaving it in place.
func (j *Journal) Replay(ctx context.Context, db BatchApplier) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := j.Pending()
	if err != nil {
		return 0, err
	}
	return j.replay(ctx, db, files)
}

// ReplayQueue is Replay restricted to the files written by queue.
func (j *Journal) ReplayQueue(ctx context.Context, db BatchApplier, queue string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := j.PendingFor(queue)
	if err != nil {
		return 0, err
	}
	return j.replay(ctx, db, files)
}

// replay applies files in order. Caller must hold mu.
func (j *Journal) replay(ctx context.Context, db BatchApplier, files []string) (int, error) {
	replayed := 0
	for _, path := range files {
		ops, err := j.read(path)
		if err != nil {
			return replayed, err
		}
		if len(ops) > 0 {
			if err := db.ApplyBatch(ctx, ops); err != nil {
				return replayed, fmt.Errorf("replay %s: %w", filepath.Base(path), err)
			}
		}
		if err := j.fs.Remove(path); err != nil {
			return replayed, fmt.Errorf("remove replayed journal: %w", err)
		}
		replayed += len(ops)
	}
	return replayed, nil
}
