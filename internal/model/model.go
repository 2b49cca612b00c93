package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStopped marks a job that was interrupted before it could finish.
// Callers still receive whatever was collected; a stopped query is
// never the same as a completed one and must stay eligible for resume.
var ErrStopped = errors.New("job stopped before completion")

// Speed selects a timing profile for the pipeline: how aggressive the
// scroll delays, enrichment concurrency and per-page timeouts are.
type Speed string

const (
	SpeedNormal    Speed = "normal"
	SpeedFast      Speed = "fast"
	SpeedUltraFast Speed = "ultra-fast"
)

func ParseSpeed(s string) (Speed, error) {
	switch Speed(strings.ToLower(strings.TrimSpace(s))) {
	case SpeedNormal, "":
		return SpeedNormal, nil
	case SpeedFast:
		return SpeedFast, nil
	case SpeedUltraFast:
		return SpeedUltraFast, nil
	}
	return "", fmt.Errorf("unknown speed %q (want normal, fast or ultra-fast)", s)
}

// ScrapeJob describes one query execution. It is immutable once started
// and is not persisted; only its results are.
type ScrapeJob struct {
	Niche               string
	Location            string
	Preposition         string
	Speed               Speed
	ExtractEmails       bool
	ExtractDetailedInfo bool
	DeepEmailExtraction bool
	EmailScrapingLimit  int
	VerifyMX            bool
	Headless            bool
}

// Query renders the search string, e.g. "bakery in Austin".
func (j ScrapeJob) Query() string {
	prep := strings.TrimSpace(j.Preposition)
	if prep == "" {
		prep = "in"
	}
	return fmt.Sprintf("%s %s %s", j.Niche, prep, j.Location)
}

// BusinessRecord is one extracted business. Name is the only required
// field; everything else is best-effort and may be empty.
type BusinessRecord struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Address        string `json:"address"`
	Phone          string `json:"phone"`
	Website        string `json:"website"`
	Email          string `json:"email"`
	Rating         string `json:"rating"`
	Reviews        string `json:"reviews"`
	Owner          string `json:"owner,omitempty"`
	SearchQuery    string `json:"search_query,omitempty"`
	SearchLocation string `json:"search_location,omitempty"`
}

type ProgressStatus string

const (
	StatusStarting   ProgressStatus = "starting"
	StatusNavigating ProgressStatus = "navigating"
	StatusScrolling  ProgressStatus = "scrolling"
	StatusExtracting ProgressStatus = "extracting"
	StatusProcessing ProgressStatus = "processing"
	StatusComplete   ProgressStatus = "complete"
	StatusError      ProgressStatus = "error"
	StatusStopped    ProgressStatus = "stopped"
)

// Progress is one event on the ordered progress stream.
type Progress struct {
	Status  ProgressStatus   `json:"status"`
	Message string           `json:"message"`
	Current int              `json:"current,omitempty"`
	Total   int              `json:"total,omitempty"`
	Data    []BusinessRecord `json:"data,omitempty"`
}

// ProgressFunc receives progress events. A nil ProgressFunc is valid.
type ProgressFunc func(Progress)

// Emit is a nil-safe call.
func (f ProgressFunc) Emit(p Progress) {
	if f != nil {
		f(p)
	}
}

type SessionStatus string

const (
	SessionProcessing SessionStatus = "processing"
	SessionPaused     SessionStatus = "paused"
	SessionCancelled  SessionStatus = "cancelled"
	SessionCompleted  SessionStatus = "completed"
)

type QueryState string

const (
	QueryPending   QueryState = "pending"
	QueryCompleted QueryState = "completed"
)

// QueryStatus tracks one location inside a bulk session.
type QueryStatus struct {
	Location string     `json:"location"`
	Status   QueryState `json:"status"`
}

// JobOptions are the per-query switches a bulk session was started
// with. They are persisted with the session so a resumed run behaves
// exactly like the original one.
type JobOptions struct {
	Preposition         string `json:"preposition,omitempty"`
	ExtractEmails       bool   `json:"extractEmails,omitempty"`
	ExtractDetailedInfo bool   `json:"extractDetailedInfo,omitempty"`
	DeepEmailExtraction bool   `json:"deepEmailExtraction,omitempty"`
	EmailScrapingLimit  int    `json:"emailScrapingLimit,omitempty"`
	VerifyMX            bool   `json:"verifyMx,omitempty"`
}

// BulkSession is the bulk-specific payload embedded in a HistoryRecord.
// The orchestration engine owns it exclusively during an active run;
// between runs the persistence layer owns the on-disk copy.
type BulkSession struct {
	Niche            string               `json:"niche"`
	Locations        []string             `json:"queries"`
	QueryStatus      map[int]*QueryStatus `json:"queryStatus"`
	TotalQueries     int                  `json:"totalQueries"`
	CompletedQueries int                  `json:"completedQueries"`
	Speed            Speed                `json:"speed"`
	Options          JobOptions           `json:"options"`
	// RemainingQueries is derived from QueryStatus; it is recomputed on
	// every persist and never treated as authoritative.
	RemainingQueries []string `json:"remainingQueries,omitempty"`
}

// NewBulkSession seeds every location as pending.
func NewBulkSession(niche string, locations []string, speed Speed, opts JobOptions) *BulkSession {
	qs := make(map[int]*QueryStatus, len(locations))
	for i, loc := range locations {
		qs[i] = &QueryStatus{Location: loc, Status: QueryPending}
	}
	return &BulkSession{
		Niche:        niche,
		Locations:    append([]string(nil), locations...),
		QueryStatus:  qs,
		TotalQueries: len(locations),
		Speed:        speed,
		Options:      opts,
	}
}

// MarkCompleted transitions one query to completed, keeping the
// completed counter equal to the number of completed entries.
func (b *BulkSession) MarkCompleted(index int) {
	qs, ok := b.QueryStatus[index]
	if !ok || qs.Status == QueryCompleted {
		return
	}
	qs.Status = QueryCompleted
	b.CompletedQueries++
}

// Remaining returns the locations whose status is not completed, in
// original order.
func (b *BulkSession) Remaining() []string {
	var out []string
	for i := 0; i < len(b.Locations); i++ {
		if qs, ok := b.QueryStatus[i]; ok && qs.Status != QueryCompleted {
			out = append(out, qs.Location)
		}
	}
	return out
}

// PendingIndexes returns the indexes still to be processed, in order.
func (b *BulkSession) PendingIndexes() []int {
	var out []int
	for i := 0; i < len(b.Locations); i++ {
		if qs, ok := b.QueryStatus[i]; ok && qs.Status != QueryCompleted {
			out = append(out, i)
		}
	}
	return out
}

// IndexOf finds the original index for a location, -1 if unknown.
func (b *BulkSession) IndexOf(location string) int {
	for i := 0; i < len(b.Locations); i++ {
		if qs, ok := b.QueryStatus[i]; ok && qs.Location == location {
			return i
		}
	}
	return -1
}

// HistoryRecord is one append-only history entry: either a single-query
// result or a bulk session snapshot. Timestamp is the immutable
// identity, stable across resume.
type HistoryRecord struct {
	Query     string           `json:"query"`
	Count     int              `json:"count"`
	Timestamp string           `json:"timestamp"`
	Data      []BusinessRecord `json:"data"`
	Status    SessionStatus    `json:"status,omitempty"`
	IsBulk    bool             `json:"isBulk,omitempty"`
	Bulk      *BulkSession     `json:"bulkData,omitempty"`
}

// History is the durable record store.
type History struct {
	Searches []*HistoryRecord `json:"searches"`
}

// Find locates a record by its timestamp identity.
func (h *History) Find(timestamp string) *HistoryRecord {
	for _, r := range h.Searches {
		if r.Timestamp == timestamp {
			return r
		}
	}
	return nil
}
