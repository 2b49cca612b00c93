// Package store persists history and session snapshots as JSON files.
// Writes to the same key are serialized through a per-key queue so
// concurrent savers can never interleave or tear a file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"mapleads/internal/model"
)

const historyFile = "scraped_history.json"

type writeReq struct {
	path string
	data []byte
	done chan error
}

type writeQueue struct {
	ch      chan writeReq
	pending int
}

// FileStore owns a data directory. All writes are atomic: temp file in
// the same directory, then rename.
type FileStore struct {
	dir string
	log *zap.Logger

	mu     sync.Mutex
	queues map[string]*writeQueue
}

func New(dir string, log *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		log:    log,
		queues: make(map[string]*writeQueue),
	}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// enqueue hands the write to the key's queue and blocks until it has
// landed on disk. The queue goroutine is created lazily and tears
// itself down once no writes are pending.
func (s *FileStore) enqueue(key, path string, data []byte) error {
	s.mu.Lock()
	q, ok := s.queues[key]
	if !ok {
		q = &writeQueue{ch: make(chan writeReq, 16)}
		s.queues[key] = q
		go s.drain(key, q)
	}
	q.pending++
	s.mu.Unlock()

	done := make(chan error, 1)
	q.ch <- writeReq{path: path, data: data, done: done}
	return <-done
}

func (s *FileStore) drain(key string, q *writeQueue) {
	for req := range q.ch {
		err := atomicWrite(req.path, req.data)
		if err != nil {
			s.log.Error("write failed", zap.String("path", req.path), zap.Error(err))
		}
		req.done <- err

		s.mu.Lock()
		q.pending--
		if q.pending == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadHistory reads the history file; a missing file is an empty
// history, not an error.
func (s *FileStore) LoadHistory() (*model.History, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, historyFile))
	if errors.Is(err, os.ErrNotExist) {
		return &model.History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var h model.History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return &h, nil
}

func (s *FileStore) SaveHistory(h *model.History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return s.enqueue("history", filepath.Join(s.dir, historyFile), data)
}

// SaveSessionData persists an arbitrary per-session payload keyed by
// the session id.
func (s *FileStore) SaveSessionData(id string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	key := "session:" + id
	return s.enqueue(key, s.sessionPath(id), data)
}

func (s *FileStore) GetSessionData(id string, v interface{}) error {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *FileStore) DeleteSessionData(id string) error {
	err := os.Remove(s.sessionPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) sessionPath(id string) string {
	return filepath.Join(s.dir, "session_"+sanitize(id)+".json")
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
