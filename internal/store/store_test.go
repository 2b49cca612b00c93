package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapleads/internal/model"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestLoadHistoryMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)

	h, err := s.LoadHistory()
	require.NoError(t, err)
	assert.Empty(t, h.Searches)
}

func TestHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	h := &model.History{Searches: []*model.HistoryRecord{{
		Query:     "plumber in Austin",
		Count:     2,
		Timestamp: "2026-01-02T15:04:05Z",
		Data: []model.BusinessRecord{
			{Name: "Acme Plumbing", Phone: "(512) 555-0184"},
			{Name: "Austin Pipe Co"},
		},
		Status: model.SessionCompleted,
	}}}
	require.NoError(t, s.SaveHistory(h))

	got, err := s.LoadHistory()
	require.NoError(t, err)
	require.Len(t, got.Searches, 1)
	assert.Equal(t, "plumber in Austin", got.Searches[0].Query)
	assert.Len(t, got.Searches[0].Data, 2)
}

func TestConcurrentSessionWritesNeverTear(t *testing.T) {
	s := newTestStore(t)
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := map[string]interface{}{
				"writer": i,
				"filler": make([]string, 200),
			}
			assert.NoError(t, s.SaveSessionData("session-1", payload))
		}()
	}
	wg.Wait()

	// Whatever landed last, the file must be one complete payload.
	var got map[string]interface{}
	require.NoError(t, s.GetSessionData("session-1", &got))
	assert.Contains(t, got, "writer")
	assert.Len(t, got["filler"], 200)
}

func TestWriteQueueTearsDownWhenIdle(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveSessionData("teardown", map[string]int{"n": i}))
	}

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.queues) == 0
	}, time.Second, 5*time.Millisecond, "idle queues must be reclaimed")
}

func TestSessionDataLifecycle(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveSessionData("2026-01-02T15:04:05Z", map[string]string{"k": "v"}))

	// The id is sanitized into the filename.
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "session_2026-01-02T15-04-05Z.json")

	var got map[string]string
	require.NoError(t, s.GetSessionData("2026-01-02T15:04:05Z", &got))
	assert.Equal(t, "v", got["k"])

	require.NoError(t, s.DeleteSessionData("2026-01-02T15:04:05Z"))
	require.Error(t, s.GetSessionData("2026-01-02T15:04:05Z", &got))

	// Deleting twice is fine.
	assert.NoError(t, s.DeleteSessionData("2026-01-02T15:04:05Z"))
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.SaveSessionData("x", map[string]int{"i": i}))
	}

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp file %s left behind", e.Name())
	}
}

func TestHistoryFileIsValidJSONUnderConcurrentSaves(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := &model.History{Searches: []*model.HistoryRecord{{
				Query:     fmt.Sprintf("query-%d", i),
				Timestamp: fmt.Sprintf("2026-01-02T15:04:%02dZ", i),
			}}}
			assert.NoError(t, s.SaveHistory(h))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(s.Dir(), historyFile))
	require.NoError(t, err)
	var h model.History
	require.NoError(t, json.Unmarshal(data, &h))
	require.Len(t, h.Searches, 1)
}
