package scrape

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mapleads/internal/browser"
	"mapleads/internal/enrich"
	"mapleads/internal/model"
)

const searchBaseURL = "https://www.google.com/maps/search/"

// Scraper runs one search query end to end: navigate, resolve consent,
// scroll the feed to exhaustion, extract, optionally enrich.
type Scraper struct {
	// Launch is swappable for tests.
	Launch func(ctx context.Context, headless bool) (browser.Session, error)
	Log    *zap.Logger
	Scroll ScrollParams
}

func New(log *zap.Logger) *Scraper {
	return &Scraper{
		Launch: func(ctx context.Context, headless bool) (browser.Session, error) {
			return browser.Launch(ctx, browser.LaunchOptions{Headless: headless}, log)
		},
		Log:    log,
		Scroll: DefaultScrollParams(),
	}
}

// Run executes the job and returns whatever was collected. Cancellation
// through ctx returns the partial slice together with model.ErrStopped
// so callers can tell a truncated query from a completed one.
func (s *Scraper) Run(ctx context.Context, job model.ScrapeJob, emit model.ProgressFunc) ([]model.BusinessRecord, error) {
	query := job.Query()
	log := s.Log.With(zap.String("query", query), zap.String("run", uuid.NewString()))

	emit.Emit(model.Progress{Status: model.StatusStarting, Message: "Starting scraper for: " + query})

	sess, err := s.Launch(ctx, job.Headless)
	if err != nil {
		emit.Emit(model.Progress{Status: model.StatusError, Message: "browser launch failed: " + err.Error()})
		return nil, err
	}
	defer sess.Close()

	page, err := sess.NewPage(ctx)
	if err != nil {
		emit.Emit(model.Progress{Status: model.StatusError, Message: "page open failed: " + err.Error()})
		return nil, err
	}
	defer page.Close()

	emit.Emit(model.Progress{Status: model.StatusNavigating, Message: "Navigating to Google Maps"})
	target := searchBaseURL + url.QueryEscape(query)
	if err := resolveNavigation(ctx, page, target, log); err != nil {
		if ctx.Err() != nil {
			emit.Emit(model.Progress{Status: model.StatusStopped, Message: "Scraping stopped before results loaded"})
			return nil, model.ErrStopped
		}
		emit.Emit(model.Progress{Status: model.StatusError, Message: err.Error()})
		return nil, err
	}

	emit.Emit(model.Progress{Status: model.StatusScrolling, Message: "Scrolling through results"})
	scroll, err := scrollFeed(ctx, page, s.Scroll, log)
	if err != nil && ctx.Err() == nil {
		emit.Emit(model.Progress{Status: model.StatusError, Message: err.Error()})
		return nil, err
	}
	if scroll.Empty {
		log.Info("no results for query")
		emit.Emit(model.Progress{Status: model.StatusComplete, Message: "No results found for: " + query})
		return []model.BusinessRecord{}, nil
	}

	emit.Emit(model.Progress{Status: model.StatusExtracting, Message: "Extracting business listings"})
	// A cancelled run still extracts whatever the feed already holds;
	// the grace context keeps the driver usable for that last pass.
	extractCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
	}
	records, err := extractList(extractCtx, page, job, log)
	if err != nil {
		emit.Emit(model.Progress{Status: model.StatusError, Message: "extraction failed: " + err.Error()})
		return nil, err
	}
	log.Info("list extraction done",
		zap.Int("records", len(records)),
		zap.Bool("complete", scroll.Complete))

	if job.ExtractDetailedInfo && ctx.Err() == nil {
		extractDetails(ctx, page, records, log, emit)
	}

	out := make([]model.BusinessRecord, len(records))
	websites := 0
	for i := range records {
		records[i].SearchQuery = query
		records[i].SearchLocation = job.Location
		out[i] = records[i].BusinessRecord
		if out[i].Website != "" {
			websites++
		}
	}

	if job.ExtractEmails && websites > 0 && ctx.Err() == nil {
		emit.Emit(model.Progress{Status: model.StatusProcessing, Message: "Scanning business websites for emails"})
		opts := enrich.OptionsForSpeed(job.Speed, job.EmailScrapingLimit, job.DeepEmailExtraction, job.VerifyMX)
		enrich.Run(ctx, sess, out, opts, log, emit)
	}

	if ctx.Err() != nil {
		emit.Emit(model.Progress{
			Status:  model.StatusStopped,
			Message: "Scraping stopped; returning partial results",
			Current: len(out),
			Total:   len(out),
		})
		// The salvaged slice may be truncated: callers must treat this
		// query as unfinished, not completed.
		return out, model.ErrStopped
	}

	emit.Emit(model.Progress{
		Status:  model.StatusComplete,
		Message: "Scraping complete",
		Current: len(out),
		Total:   len(out),
	})
	return out, nil
}
