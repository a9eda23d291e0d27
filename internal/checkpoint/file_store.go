// Package checkpoint implements CheckpointStore backends: a directory of
// JSON files (the primary, spec-mandated format) and an optional
// Redis-backed store for multi-instance deployments, adapted from the
// teacher's stream/checkpoint.MemoryStore/RedisStore pair.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

// FileStore is a directory-backed CheckpointStore. Each save writes a
// file named checkpoint_<tag>_<sortable-timestamp>.json via
// write-to-tmp-then-rename so a crash mid-write never corrupts the most
// recent checkpoint (spec §4.4).
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// sortableTimestamp renders t so lexicographic filename order matches
// chronological order: a compact UTC form (20060102T150405.000000000Z)
// with nanosecond precision and no colons (filesystem-unsafe on some
// platforms).
func sortableTimestamp(t time.Time) string {
	s := t.UTC().Format("20060102T150405.000000000Z")
	return s
}

func (s *FileStore) fileName(tag string, t time.Time) string {
	return fmt.Sprintf("checkpoint_%s_%s.json", tag, sortableTimestamp(t))
}

// Ping verifies the checkpoint directory is still reachable and
// writable, for use by the health server's checkpoint-store readiness
// check.
func (s *FileStore) Ping(ctx context.Context) error {
	probe := filepath.Join(s.dir, ".health-check")
	if err := os.WriteFile(probe, []byte{}, 0o644); err != nil {
		return fmt.Errorf("probe checkpoint dir %s: %w", s.dir, err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("remove checkpoint probe file: %w", err)
	}
	return nil
}

func (s *FileStore) Save(ctx context.Context, tag string, env syncpkg.CheckpointEnvelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint envelope: %w", err)
	}

	final := filepath.Join(s.dir, s.fileName(tag, time.Now()))
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename checkpoint file into place: %w", err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, tag string) (syncpkg.CheckpointEnvelope, bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return syncpkg.CheckpointEnvelope{}, false, fmt.Errorf("list checkpoint dir: %w", err)
	}

	prefix := fmt.Sprintf("checkpoint_%s_", tag)
	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".json") {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return syncpkg.CheckpointEnvelope{}, false, nil
	}

	// Filenames are sortable by construction; the lexicographically
	// last one is the most recent.
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	data, err := os.ReadFile(filepath.Join(s.dir, latest))
	if err != nil {
		return syncpkg.CheckpointEnvelope{}, false, fmt.Errorf("read checkpoint file %s: %w", latest, err)
	}

	var env syncpkg.CheckpointEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return syncpkg.CheckpointEnvelope{}, false, fmt.Errorf("unmarshal checkpoint file %s: %w", latest, err)
	}
	return env, true, nil
}

var _ syncpkg.CheckpointStore = (*FileStore)(nil)
