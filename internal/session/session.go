// Package session orchestrates bulk runs: many locations for one niche,
// processed in order, persisted after every query so a run can be
// paused, cancelled and resumed without losing or repeating work.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mapleads/internal/archive"
	"mapleads/internal/model"
	"mapleads/internal/store"
)

// QueryRunner executes one query. The session runner does not care how;
// in production it is the scraper pipeline, in tests a fake.
type QueryRunner func(ctx context.Context, job model.ScrapeJob, emit model.ProgressFunc) ([]model.BusinessRecord, error)

// Config describes a bulk run.
type Config struct {
	Niche               string
	Preposition         string
	Locations           []string
	Speed               model.Speed
	ExtractEmails       bool
	ExtractDetailedInfo bool
	DeepEmailExtraction bool
	EmailScrapingLimit  int
	VerifyMX            bool
	Headless            bool
}

type Runner struct {
	Store   *store.FileStore
	Run     QueryRunner
	Log     *zap.Logger
	Archive *archive.Writer
	// Parallel is the number of locations processed at once. The default
	// of 1 preserves strict ordering.
	Parallel int
}

// Start creates a new bulk session and drives it until done or ctx is
// cancelled. The session's timestamp identity is returned so callers
// can resume it later.
func (r *Runner) Start(ctx context.Context, cfg Config) (string, error) {
	history, err := r.Store.LoadHistory()
	if err != nil {
		return "", err
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	rec := &model.HistoryRecord{
		Query:     fmt.Sprintf("Bulk: %s (%d locations)", cfg.Niche, len(cfg.Locations)),
		Timestamp: timestamp,
		Status:    model.SessionProcessing,
		IsBulk:    true,
		Bulk: model.NewBulkSession(cfg.Niche, cfg.Locations, cfg.Speed, model.JobOptions{
			Preposition:         cfg.Preposition,
			ExtractEmails:       cfg.ExtractEmails,
			ExtractDetailedInfo: cfg.ExtractDetailedInfo,
			DeepEmailExtraction: cfg.DeepEmailExtraction,
			EmailScrapingLimit:  cfg.EmailScrapingLimit,
			VerifyMX:            cfg.VerifyMX,
		}),
	}
	history.Searches = append(history.Searches, rec)
	if err := r.persist(history, rec); err != nil {
		return "", err
	}

	r.Log.Info("bulk session started",
		zap.String("session", timestamp),
		zap.Int("locations", len(cfg.Locations)))

	return timestamp, r.process(ctx, cfg, history, rec, rec.Bulk.PendingIndexes())
}

// Resume picks up a paused or cancelled session by its timestamp and
// processes only the locations still pending.
func (r *Runner) Resume(ctx context.Context, timestamp string, cfg Config) error {
	history, err := r.Store.LoadHistory()
	if err != nil {
		return err
	}
	rec := history.Find(timestamp)
	if rec == nil {
		return fmt.Errorf("no session with timestamp %q", timestamp)
	}
	if !rec.IsBulk || rec.Bulk == nil {
		return fmt.Errorf("session %q is not a bulk session", timestamp)
	}
	if rec.Status != model.SessionPaused && rec.Status != model.SessionCancelled {
		return fmt.Errorf("session %q is %s, not resumable", timestamp, rec.Status)
	}

	pending := rec.Bulk.PendingIndexes()
	if len(pending) == 0 {
		rec.Status = model.SessionCompleted
		return r.persist(history, rec)
	}

	// The resumed run behaves exactly like the original one: every job
	// switch comes from the persisted session, not the current flags.
	cfg.Niche = rec.Bulk.Niche
	cfg.Speed = rec.Bulk.Speed
	cfg.Preposition = rec.Bulk.Options.Preposition
	cfg.ExtractEmails = rec.Bulk.Options.ExtractEmails
	cfg.ExtractDetailedInfo = rec.Bulk.Options.ExtractDetailedInfo
	cfg.DeepEmailExtraction = rec.Bulk.Options.DeepEmailExtraction
	cfg.EmailScrapingLimit = rec.Bulk.Options.EmailScrapingLimit
	cfg.VerifyMX = rec.Bulk.Options.VerifyMX

	rec.Status = model.SessionProcessing
	if err := r.persist(history, rec); err != nil {
		return err
	}

	r.Log.Info("bulk session resumed",
		zap.String("session", timestamp),
		zap.Int("remaining", len(pending)))

	return r.process(ctx, cfg, history, rec, pending)
}

type queryResult struct {
	index   int
	records []model.BusinessRecord
	err     error
}

// process runs the pending locations in batches, persisting after every
// completed query. On cancellation the session is left paused when it
// holds data and cancelled when it holds none.
func (r *Runner) process(ctx context.Context, cfg Config, history *model.History, rec *model.HistoryRecord, pending []int) error {
	parallel := r.Parallel
	if parallel < 1 {
		parallel = 1
	}

	for start := 0; start < len(pending); start += parallel {
		if ctx.Err() != nil {
			break
		}
		end := start + parallel
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		results := make(chan queryResult, len(batch))
		for _, idx := range batch {
			idx := idx
			go func() {
				job := model.ScrapeJob{
					Niche:               cfg.Niche,
					Location:            rec.Bulk.Locations[idx],
					Preposition:         cfg.Preposition,
					Speed:               cfg.Speed,
					ExtractEmails:       cfg.ExtractEmails,
					ExtractDetailedInfo: cfg.ExtractDetailedInfo,
					DeepEmailExtraction: cfg.DeepEmailExtraction,
					EmailScrapingLimit:  cfg.EmailScrapingLimit,
					VerifyMX:            cfg.VerifyMX,
					Headless:            cfg.Headless,
				}
				records, err := r.Run(ctx, job, r.progressFor(rec.Bulk.Locations[idx]))
				results <- queryResult{index: idx, records: records, err: err}
			}()
		}

		// Apply sequentially so persistence sees one mutation at a time.
		for range batch {
			res := <-results
			loc := rec.Bulk.Locations[res.index]
			if errors.Is(res.err, model.ErrStopped) {
				// A stopped query may hold a truncated slice. Committing
				// it would drop the location from the resume set and lose
				// the tail of its results forever, so it stays pending
				// and its partial data is discarded.
				r.Log.Info("query stopped mid-run, left pending for resume",
					zap.String("location", loc),
					zap.Int("discarded", len(res.records)))
				continue
			}
			if res.err != nil {
				r.Log.Warn("query failed, left pending",
					zap.String("location", loc), zap.Error(res.err))
				continue
			}
			rec.Bulk.MarkCompleted(res.index)
			rec.Data = append(rec.Data, res.records...)
			rec.Count = len(rec.Data)
			if r.Archive != nil && len(res.records) > 0 {
				r.Archive.Write(res.records)
			}
			// A failed write never halts the run: the atomic rename left
			// prior state intact and the next persist retries everything.
			if err := r.persist(history, rec); err != nil {
				r.Log.Error("persisting session failed", zap.Error(err))
			}
			r.Log.Info("query completed",
				zap.String("location", loc),
				zap.Int("records", len(res.records)),
				zap.Int("completed", rec.Bulk.CompletedQueries),
				zap.Int("total", rec.Bulk.TotalQueries))
		}
	}

	remaining := rec.Bulk.Remaining()
	switch {
	case len(remaining) == 0:
		rec.Status = model.SessionCompleted
		r.Log.Info("bulk session completed", zap.String("session", rec.Timestamp))
	case len(rec.Data) > 0:
		rec.Status = model.SessionPaused
		r.Log.Info("bulk session paused",
			zap.String("session", rec.Timestamp),
			zap.Int("remaining", len(remaining)))
	default:
		rec.Status = model.SessionCancelled
		r.Log.Info("bulk session cancelled", zap.String("session", rec.Timestamp))
	}
	return r.persist(history, rec)
}

// persist recomputes derived fields and writes both the shared history
// and the per-session snapshot.
func (r *Runner) persist(history *model.History, rec *model.HistoryRecord) error {
	if rec.Bulk != nil {
		rec.Bulk.RemainingQueries = rec.Bulk.Remaining()
	}
	if err := r.Store.SaveHistory(history); err != nil {
		return err
	}
	return r.Store.SaveSessionData(rec.Timestamp, rec)
}

func (r *Runner) progressFor(location string) model.ProgressFunc {
	log := r.Log.With(zap.String("location", location))
	return func(p model.Progress) {
		switch p.Status {
		case model.StatusError:
			log.Warn(p.Message)
		default:
			log.Info(p.Message, zap.String("status", string(p.Status)))
		}
	}
}
