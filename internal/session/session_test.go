package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapleads/internal/model"
	"mapleads/internal/store"
)

// fakeRunner records the jobs it was asked to scrape and serves canned
// results. It can cancel the run context after a given number of calls
// to simulate a ctrl-c mid-session, and stopOn simulates a ctrl-c
// arriving mid-query: the scraper hands back a truncated slice together
// with ErrStopped.
type fakeRunner struct {
	mu          sync.Mutex
	calls       []string
	jobs        []model.ScrapeJob
	results     map[string][]model.BusinessRecord
	failOn      map[string]bool
	stopOn      map[string][]model.BusinessRecord
	cancelAfter int
	cancel      context.CancelFunc
}

func (f *fakeRunner) run(ctx context.Context, job model.ScrapeJob, emit model.ProgressFunc) ([]model.BusinessRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, job.Location)
	f.jobs = append(f.jobs, job)
	n := len(f.calls)
	f.mu.Unlock()

	if f.failOn[job.Location] {
		return nil, errors.New("browser crashed")
	}
	if partial, ok := f.stopOn[job.Location]; ok {
		if f.cancel != nil {
			f.cancel()
		}
		return partial, model.ErrStopped
	}
	records := f.results[job.Location]
	if f.cancel != nil && f.cancelAfter > 0 && n >= f.cancelAfter {
		f.cancel()
	}
	return records, nil
}

func newTestRunner(t *testing.T, fake *fakeRunner) *Runner {
	t.Helper()
	st, err := store.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return &Runner{Store: st, Run: fake.run, Log: zap.NewNop()}
}

func recordsFor(names ...string) []model.BusinessRecord {
	out := make([]model.BusinessRecord, len(names))
	for i, n := range names {
		out[i] = model.BusinessRecord{Name: n}
	}
	return out
}

func bulkCfg(locations ...string) Config {
	return Config{
		Niche:     "plumber",
		Locations: locations,
		Speed:     model.SpeedNormal,
	}
}

func loadOnly(t *testing.T, r *Runner) *model.HistoryRecord {
	t.Helper()
	h, err := r.Store.LoadHistory()
	require.NoError(t, err)
	require.Len(t, h.Searches, 1)
	return h.Searches[0]
}

func TestBulkSessionCompletes(t *testing.T) {
	fake := &fakeRunner{results: map[string][]model.BusinessRecord{
		"Austin": recordsFor("A1", "A2"),
		"Dallas": recordsFor("D1"),
	}}
	r := newTestRunner(t, fake)

	ts, err := r.Start(context.Background(), bulkCfg("Austin", "Dallas"))
	require.NoError(t, err)
	require.NotEmpty(t, ts)

	rec := loadOnly(t, r)
	assert.Equal(t, model.SessionCompleted, rec.Status)
	assert.Equal(t, 2, rec.Bulk.CompletedQueries)
	assert.Equal(t, 3, rec.Count)
	assert.Len(t, rec.Data, 3)
	assert.Empty(t, rec.Bulk.RemainingQueries)
	assert.Equal(t, []string{"Austin", "Dallas"}, fake.calls)
}

func TestBulkSessionPausesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeRunner{
		results: map[string][]model.BusinessRecord{
			"Austin":  recordsFor("A1", "A2"),
			"Dallas":  recordsFor("D1"),
			"Houston": recordsFor("H1"),
		},
		cancelAfter: 1,
		cancel:      cancel,
	}
	r := newTestRunner(t, fake)

	_, err := r.Start(ctx, bulkCfg("Austin", "Dallas", "Houston"))
	require.NoError(t, err)

	rec := loadOnly(t, r)
	assert.Equal(t, model.SessionPaused, rec.Status, "interrupted run with data pauses, it does not cancel")
	assert.Equal(t, 1, rec.Bulk.CompletedQueries)
	assert.Equal(t, model.QueryCompleted, rec.Bulk.QueryStatus[0].Status)
	assert.Equal(t, model.QueryPending, rec.Bulk.QueryStatus[1].Status)
	assert.Equal(t, model.QueryPending, rec.Bulk.QueryStatus[2].Status)
	assert.Equal(t, []string{"Dallas", "Houston"}, rec.Bulk.RemainingQueries)
	assert.Len(t, rec.Data, 2)
	assert.Equal(t, []string{"Austin"}, fake.calls)
}

func TestBulkSessionResumeRunsOnlyPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeRunner{
		results: map[string][]model.BusinessRecord{
			"Austin":  recordsFor("A1"),
			"Dallas":  recordsFor("D1"),
			"Houston": recordsFor("H1"),
		},
		cancelAfter: 1,
		cancel:      cancel,
	}
	r := newTestRunner(t, fake)

	ts, err := r.Start(ctx, bulkCfg("Austin", "Dallas", "Houston"))
	require.NoError(t, err)

	// Fresh runner sharing the same store, as a new process would.
	resumeFake := &fakeRunner{results: fake.results}
	r2 := &Runner{Store: r.Store, Run: resumeFake.run, Log: zap.NewNop()}
	require.NoError(t, r2.Resume(context.Background(), ts, Config{}))

	assert.Equal(t, []string{"Dallas", "Houston"}, resumeFake.calls,
		"resume must process exactly the pending locations")

	rec := loadOnly(t, r2)
	assert.Equal(t, model.SessionCompleted, rec.Status)
	assert.Equal(t, 3, rec.Bulk.CompletedQueries)
	assert.Len(t, rec.Data, 3, "no location's data may be duplicated")
	assert.Equal(t, ts, rec.Timestamp, "timestamp identity survives resume")
}

func TestBulkSessionStoppedQueryStaysPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeRunner{
		results: map[string][]model.BusinessRecord{
			"Austin": recordsFor("A1"),
		},
		stopOn: map[string][]model.BusinessRecord{
			"Dallas": recordsFor("D1", "D2"),
		},
		cancel: cancel,
	}
	r := newTestRunner(t, fake)

	ts, err := r.Start(ctx, bulkCfg("Austin", "Dallas", "Houston"))
	require.NoError(t, err)

	rec := loadOnly(t, r)
	assert.Equal(t, model.SessionPaused, rec.Status)
	assert.Equal(t, 1, rec.Bulk.CompletedQueries)
	assert.Equal(t, model.QueryCompleted, rec.Bulk.QueryStatus[0].Status)
	assert.Equal(t, model.QueryPending, rec.Bulk.QueryStatus[1].Status,
		"an interrupted query was not fully scraped and must stay pending")
	assert.Equal(t, []string{"Dallas", "Houston"}, rec.Bulk.RemainingQueries)
	assert.Len(t, rec.Data, 1, "truncated results from the interrupted query are not committed")
	for _, br := range rec.Data {
		assert.NotContains(t, []string{"D1", "D2"}, br.Name)
	}

	// Resume re-scrapes the interrupted location from scratch.
	resumeFake := &fakeRunner{results: map[string][]model.BusinessRecord{
		"Dallas":  recordsFor("D1", "D2", "D3"),
		"Houston": recordsFor("H1"),
	}}
	r2 := &Runner{Store: r.Store, Run: resumeFake.run, Log: zap.NewNop()}
	require.NoError(t, r2.Resume(context.Background(), ts, Config{}))

	assert.Equal(t, []string{"Dallas", "Houston"}, resumeFake.calls)
	rec = loadOnly(t, r2)
	assert.Equal(t, model.SessionCompleted, rec.Status)
	assert.Len(t, rec.Data, 5)
}

func TestResumeCarriesJobOptions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeRunner{
		results: map[string][]model.BusinessRecord{
			"Austin": recordsFor("A1"),
		},
		cancelAfter: 1,
		cancel:      cancel,
	}
	r := newTestRunner(t, fake)

	cfg := bulkCfg("Austin", "Dallas")
	cfg.Preposition = "near"
	cfg.ExtractEmails = true
	cfg.ExtractDetailedInfo = true
	cfg.DeepEmailExtraction = true
	cfg.EmailScrapingLimit = 7
	cfg.VerifyMX = true

	ts, err := r.Start(ctx, cfg)
	require.NoError(t, err)

	rec := loadOnly(t, r)
	assert.True(t, rec.Bulk.Options.ExtractEmails)
	assert.Equal(t, 7, rec.Bulk.Options.EmailScrapingLimit)

	// Resume with a bare config, as the resume subcommand does.
	resumeFake := &fakeRunner{results: map[string][]model.BusinessRecord{
		"Dallas": recordsFor("D1"),
	}}
	r2 := &Runner{Store: r.Store, Run: resumeFake.run, Log: zap.NewNop()}
	require.NoError(t, r2.Resume(context.Background(), ts, Config{}))

	require.Len(t, resumeFake.jobs, 1)
	job := resumeFake.jobs[0]
	assert.Equal(t, "plumber near Dallas", job.Query())
	assert.True(t, job.ExtractEmails, "resume must keep the original email switch")
	assert.True(t, job.ExtractDetailedInfo)
	assert.True(t, job.DeepEmailExtraction)
	assert.Equal(t, 7, job.EmailScrapingLimit)
	assert.True(t, job.VerifyMX)
}

func TestBulkSessionCancelledWithoutData(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeRunner{
		results:     map[string][]model.BusinessRecord{},
		cancelAfter: 1,
		cancel:      cancel,
	}
	r := newTestRunner(t, fake)

	_, err := r.Start(ctx, bulkCfg("Austin", "Dallas"))
	require.NoError(t, err)

	rec := loadOnly(t, r)
	assert.Equal(t, model.SessionCancelled, rec.Status, "no data collected means cancelled, not paused")
}

func TestBulkSessionFailedQueryStaysPending(t *testing.T) {
	fake := &fakeRunner{
		results: map[string][]model.BusinessRecord{
			"Austin":  recordsFor("A1"),
			"Houston": recordsFor("H1"),
		},
		failOn: map[string]bool{"Dallas": true},
	}
	r := newTestRunner(t, fake)

	_, err := r.Start(context.Background(), bulkCfg("Austin", "Dallas", "Houston"))
	require.NoError(t, err)

	rec := loadOnly(t, r)
	assert.Equal(t, model.SessionPaused, rec.Status, "a failed query leaves the session resumable")
	assert.Equal(t, model.QueryPending, rec.Bulk.QueryStatus[1].Status)
	assert.Equal(t, []string{"Dallas"}, rec.Bulk.RemainingQueries)
	assert.Len(t, rec.Data, 2)
}

func TestResumeRejectsWrongStates(t *testing.T) {
	fake := &fakeRunner{results: map[string][]model.BusinessRecord{
		"Austin": recordsFor("A1"),
	}}
	r := newTestRunner(t, fake)

	ts, err := r.Start(context.Background(), bulkCfg("Austin"))
	require.NoError(t, err)

	err = r.Resume(context.Background(), ts, Config{})
	assert.ErrorContains(t, err, "not resumable")

	err = r.Resume(context.Background(), "1999-01-01T00:00:00Z", Config{})
	assert.ErrorContains(t, err, "no session")
}

func TestMarkCompletedCounterInvariant(t *testing.T) {
	b := model.NewBulkSession("plumber", []string{"Austin", "Dallas"}, model.SpeedNormal, model.JobOptions{})

	b.MarkCompleted(0)
	b.MarkCompleted(0)
	b.MarkCompleted(99)

	assert.Equal(t, 1, b.CompletedQueries, "repeat and unknown indexes must not inflate the counter")
	assert.Equal(t, []string{"Dallas"}, b.Remaining())
}
