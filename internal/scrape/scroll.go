package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"mapleads/internal/browser"
	"mapleads/internal/js"
)

// The feed emits this literal once no further items will load. It is
// the authoritative stop signal; the no-change heuristic is only a
// fallback for when it never appears.
const endOfListMarker = "You've reached the end"

var zeroResultMarkers = []string{
	"Google Maps can't find",
	"No results found",
}

var feedSelectors = []string{
	`div[aria-label^="Results for"]`,
	`div[role="feed"]`,
	`div.m6QErb[role="feed"]`,
	`div[role="main"] div[role="feed"]`,
}

var errFeedNotFound = errors.New("could not find the results list to scroll; the page layout may have changed or the page is blocked")

// ScrollParams are tunables, not load-bearing for correctness: the end
// marker always wins, these only bound how long we wait for it.
type ScrollParams struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Backoff           float64
	NoChangeThreshold int
	MaxIterations     int
	SettleBuffer      time.Duration
	// Counts below MinPlausible trigger a recovery burst of forced
	// scrolls before the controller gives up.
	MinPlausible    int
	RecoveryScrolls int
	SelectorWait    time.Duration
}

func DefaultScrollParams() ScrollParams {
	return ScrollParams{
		InitialDelay:      300 * time.Millisecond,
		MaxDelay:          2500 * time.Millisecond,
		Backoff:           1.5,
		NoChangeThreshold: 6,
		MaxIterations:     100,
		SettleBuffer:      150 * time.Millisecond,
		MinPlausible:      15,
		RecoveryScrolls:   5,
		SelectorWait:      5 * time.Second,
	}
}

// ScrollResult reports how the feed drive ended. Complete is false when
// the controller stopped without seeing the end marker, meaning the
// result set is possibly truncated.
type ScrollResult struct {
	Items    int
	Complete bool
	Empty    bool
}

type feedState struct {
	Items   int    `json:"items"`
	EndText string `json:"endText"`
	Found   bool   `json:"found"`
}

// scrollFeed drives the virtualized results feed to exhaustion.
func scrollFeed(ctx context.Context, page browser.Page, p ScrollParams, log *zap.Logger) (ScrollResult, error) {
	selector, err := findFeedSelector(ctx, page, p)
	if err != nil {
		if empty, bodyErr := isZeroResults(ctx, page); bodyErr == nil && empty {
			log.Info("query returned no results")
			return ScrollResult{Empty: true, Complete: true}, nil
		}
		return ScrollResult{}, err
	}

	var (
		itemCount     int
		noChangeCount int
		delay         = p.InitialDelay
	)

	for iter := 0; iter < p.MaxIterations; iter++ {
		if ctx.Err() != nil {
			return ScrollResult{Items: itemCount}, ctx.Err()
		}

		raw, err := page.Eval(ctx, js.FeedState, selector)
		if err != nil {
			log.Warn("feed read failed", zap.Error(err))
			break
		}
		var state feedState
		if err := json.Unmarshal(raw, &state); err != nil || !state.Found {
			break
		}

		if strings.Contains(state.EndText, endOfListMarker) {
			log.Debug("end of list detected", zap.Int("items", state.Items))
			return ScrollResult{Items: state.Items, Complete: true}, nil
		}

		if state.Items > itemCount {
			itemCount = state.Items
			noChangeCount = 0
			delay = p.InitialDelay
			log.Debug("feed grew", zap.Int("items", itemCount))
		} else {
			noChangeCount++
			// Stop only when both the attempt budget and the delay cap
			// are exhausted: slow networks show long quiet stretches
			// before content arrives, and stopping on attempts alone
			// silently truncates the results.
			if noChangeCount >= p.NoChangeThreshold && delay >= p.MaxDelay {
				break
			}
			delay = time.Duration(float64(delay) * p.Backoff)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		// Race "item count increases" against the backoff delay so
		// fast-arriving content shortens the wait.
		if err := page.WaitFor(ctx, js.ItemsIncreased, delay, itemCount); err == nil {
			delay = p.InitialDelay
		}
		sleepCtx(ctx, p.SettleBuffer)
	}

	if itemCount < p.MinPlausible && ctx.Err() == nil {
		itemCount = recoveryBurst(ctx, page, selector, itemCount, p, log)
	}

	return ScrollResult{Items: itemCount, Complete: false}, nil
}

func findFeedSelector(ctx context.Context, page browser.Page, p ScrollParams) (string, error) {
	for _, sel := range feedSelectors {
		if err := page.WaitFor(ctx, js.SelectorPresent, p.SelectorWait, sel); err == nil {
			return sel, nil
		}
	}
	return "", errFeedNotFound
}

func isZeroResults(ctx context.Context, page browser.Page) (bool, error) {
	raw, err := page.Eval(ctx, js.BodyText)
	if err != nil {
		return false, err
	}
	var body string
	if err := json.Unmarshal(raw, &body); err != nil {
		return false, err
	}
	for _, marker := range zeroResultMarkers {
		if strings.Contains(body, marker) {
			return true, nil
		}
	}
	return false, nil
}

// recoveryBurst forces a few extra scrolls when the count is
// implausibly low, in case the feed stalled rather than ended.
func recoveryBurst(ctx context.Context, page browser.Page, selector string, count int, p ScrollParams, log *zap.Logger) int {
	log.Debug("item count implausibly low, forcing extra scrolls", zap.Int("items", count))
	for i := 0; i < p.RecoveryScrolls; i++ {
		if ctx.Err() != nil {
			return count
		}
		if _, err := page.Eval(ctx, js.ForceScroll, selector); err != nil {
			return count
		}
		_ = page.WaitFor(ctx, js.ItemsIncreased, p.MaxDelay, count)
		raw, err := page.Eval(ctx, js.FeedState, selector)
		if err != nil {
			return count
		}
		var state feedState
		if err := json.Unmarshal(raw, &state); err != nil {
			return count
		}
		if state.Items > count {
			count = state.Items
		}
	}
	return count
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
