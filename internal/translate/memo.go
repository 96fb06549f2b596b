// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package translate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/subforge/internal/metrics"
)

const memoPrefix = "chunk:"

// Memo remembers finished chunk translations across documents.
// Keys are "chunk:<sha256>" and values are JSON string arrays.
type Memo struct {
	db *badger.DB
}

// OpenMemo opens the memo under dir. An empty dir opens an in-memory store.
func OpenMemo(dir string) (*Memo, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create memo dir: %w", err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open memo: %w", err)
	}
	return &Memo{db: db}, nil
}

func (m *Memo) Close() error { return m.db.Close() }

// Get returns the cached lines for key. Decode failures count as a miss.
func (m *Memo) Get(key string) ([]string, bool) {
	var lines []string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(memoPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &lines)
		})
	})
	hit := err == nil
	metrics.RecordMemoLookup(hit)
	if !hit {
		return nil, false
	}
	return lines, true
}

func (m *Memo) Put(key string, lines []string) error {
	buf, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(memoPrefix+key), buf)
	})
}

// Delete drops one entry; a missing key is not an error.
func (m *Memo) Delete(key string) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(memoPrefix + key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

type memoScope struct {
	provider string
	model    string
	target   string
	theme    string
	reflect  bool
}

func (s memoScope) key(c Chunk) string {
	h := sha256.New()
	for _, part := range []string{s.provider, s.model, s.target, s.theme, strconv.FormatBool(s.reflect)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	for _, cue := range c.Cues {
		h.Write([]byte(cue.Source))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
