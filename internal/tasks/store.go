// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/subforge/internal/domain"
)

// Persistence files under the scratch directory.
const (
	ASRFile   = "asr_tasks.json"
	TransFile = "trans_tasks.json"
)

// Store keeps task records as two JSON arrays, split by whether the task
// starts from media or from a subtitle file.
type Store struct {
	dir string
}

func NewStore(dir string) *Store { return &Store{dir: dir} }

func fileFor(k domain.Kind) string {
	if k.NeedsMedia() {
		return ASRFile
	}
	return TransFile
}

// Save replaces both files with tasks, preserving their order.
func (s *Store) Save(tasks []*domain.Task) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	split := map[string][]*domain.Task{ASRFile: {}, TransFile: {}}
	for _, t := range tasks {
		name := fileFor(t.Kind)
		split[name] = append(split[name], t)
	}
	for _, name := range []string{ASRFile, TransFile} {
		if err := writeTasks(filepath.Join(s.dir, name), split[name]); err != nil {
			return err
		}
	}
	return nil
}

func writeTasks(path string, tasks []*domain.Task) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending task file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tasks); err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace task file: %w", err)
	}
	return nil
}

// Load reads both files. Missing files are empty. The result is ordered by
// creation time.
func (s *Store) Load() ([]*domain.Task, error) {
	var out []*domain.Task
	for _, name := range []string{ASRFile, TransFile} {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var tasks []*domain.Task
		if err := json.Unmarshal(data, &tasks); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		out = append(out, tasks...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
