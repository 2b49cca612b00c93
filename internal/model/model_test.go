package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQuery(t *testing.T) {
	job := ScrapeJob{Niche: "plumber", Location: "Austin"}
	assert.Equal(t, "plumber in Austin", job.Query())

	job.Preposition = "near"
	assert.Equal(t, "plumber near Austin", job.Query())
}

func TestParseSpeed(t *testing.T) {
	for in, want := range map[string]Speed{
		"":           SpeedNormal,
		"normal":     SpeedNormal,
		"Fast":       SpeedFast,
		" ultra-fast": SpeedUltraFast,
	} {
		got, err := ParseSpeed(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSpeed("warp")
	assert.Error(t, err)
}

func TestProgressFuncNilSafe(t *testing.T) {
	var f ProgressFunc
	assert.NotPanics(t, func() { f.Emit(Progress{Status: StatusComplete}) })
}

func TestBulkSessionRemainingOrder(t *testing.T) {
	b := NewBulkSession("plumber", []string{"Austin", "Dallas", "Houston"}, SpeedFast, JobOptions{})
	b.MarkCompleted(1)

	assert.Equal(t, []string{"Austin", "Houston"}, b.Remaining())
	assert.Equal(t, []int{0, 2}, b.PendingIndexes())
	assert.Equal(t, 1, b.CompletedQueries)
	assert.Equal(t, 2, b.IndexOf("Houston"))
	assert.Equal(t, -1, b.IndexOf("El Paso"))
}

func TestHistoryFind(t *testing.T) {
	h := History{Searches: []*HistoryRecord{
		{Timestamp: "2026-01-01T00:00:00Z"},
		{Timestamp: "2026-01-02T00:00:00Z"},
	}}

	require.NotNil(t, h.Find("2026-01-02T00:00:00Z"))
	assert.Nil(t, h.Find("2026-01-03T00:00:00Z"))
}
