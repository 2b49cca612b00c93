package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"mapleads/internal/browser"
	"mapleads/internal/js"
	"mapleads/internal/model"
)

// rawCard is the payload the page script gathers per result card.
// All classification happens here, on the Go side.
type rawCard struct {
	Name        string    `json:"name"`
	Link        string    `json:"link"`
	RatingText  string    `json:"ratingText"`
	DetailLines []string  `json:"detailLines"`
	Links       []rawLink `json:"links"`
}

type rawLink struct {
	Href   string `json:"href"`
	Label  string `json:"label"`
	ItemID string `json:"itemId"`
}

// listRecord pairs a BusinessRecord with the internal dedup key and the
// card's original index. The link never leaves this package.
type listRecord struct {
	model.BusinessRecord
	link  string
	index int
}

var (
	ratingRe  = regexp.MustCompile(`(\d\.\d+)`)
	reviewsRe = regexp.MustCompile(`\(([\d,]+)\)`)
	phoneRe   = regexp.MustCompile(`(\(\d{3}\)|\d{3})[-.\s]?\d{3}[-.\s]?\d{4}`)
	// Looser shape used by the detail pane, where international numbers
	// show up.
	loosePhoneRe   = regexp.MustCompile(`\+?[\d\s\-()]{10,}`)
	ratingTokenRe  = regexp.MustCompile(`^\d\.\d+\s*\(\d+\)`)
	bareRatingRe   = regexp.MustCompile(`^\d\.\d+$`)
	hoursPrefixRe  = regexp.MustCompile(`(?i)^(Opens|Closes|Temporarily|Permanently)\b`)
	openStatusRe   = regexp.MustCompile(`(?i)^Open\b`)
	openDetailRe   = regexp.MustCompile(`(?i)(AM|PM|hours?|soon|now)`)
	hoursNoiseRe   = regexp.MustCompile(`(?i)Open \d+ Hours?|Open now|Closes soon|Closed`)
	allDigitsRe = regexp.MustCompile(`^\d+$`)

	streetSuffixes = map[string]struct{}{
		"st": {}, "street": {}, "ave": {}, "avenue": {}, "rd": {}, "road": {},
		"blvd": {}, "boulevard": {}, "ln": {}, "lane": {}, "dr": {}, "drive": {},
		"ct": {}, "court": {}, "hwy": {}, "highway": {}, "pkwy": {}, "parkway": {},
		"suite": {}, "ste": {},
	}
)

// extractList maps every feed card to a record. Cards without a
// resolvable name are discarded; cards sharing a detail link collapse
// to one record.
func extractList(ctx context.Context, page browser.Page, job model.ScrapeJob, log *zap.Logger) ([]listRecord, error) {
	raw, err := page.Eval(ctx, js.CollectCards)
	if err != nil {
		return nil, err
	}
	var cards []rawCard
	if err := json.Unmarshal(raw, &cards); err != nil {
		return nil, err
	}
	return buildRecords(cards, job), nil
}

func buildRecords(cards []rawCard, job model.ScrapeJob) []listRecord {
	seen := make(map[string]struct{}, len(cards))
	out := make([]listRecord, 0, len(cards))

	for i, card := range cards {
		name := strings.TrimSpace(card.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[card.Link]; dup {
			continue
		}
		seen[card.Link] = struct{}{}

		rating, reviews := parseRating(card.RatingText)
		phone, address := classifyDetails(card.DetailLines)

		out = append(out, listRecord{
			BusinessRecord: model.BusinessRecord{
				Name:     name,
				Category: job.Niche,
				Address:  address,
				Phone:    phone,
				Website:  pickWebsite(card.Links),
				Rating:   rating,
				Reviews:  reviews,
			},
			link:  card.Link,
			index: i,
		})
	}
	return out
}

// parseRating pulls "4.9" and "162" out of text like "4.9(1,162)".
func parseRating(text string) (rating, reviews string) {
	if m := ratingRe.FindStringSubmatch(text); m != nil {
		rating = m[1]
	}
	if m := reviewsRe.FindStringSubmatch(text); m != nil {
		reviews = strings.ReplaceAll(m[1], ",", "")
	}
	return rating, reviews
}

// pickWebsite walks the fallback chain: explicit authority attribute,
// accessible-name match, then the first external non-Google link.
func pickWebsite(links []rawLink) string {
	for _, l := range links {
		if l.ItemID == "authority" {
			return l.Href
		}
	}
	for _, l := range links {
		if strings.Contains(strings.ToLower(l.Label), "website") {
			return l.Href
		}
	}
	for _, l := range links {
		if !strings.Contains(l.Href, "google.com") && !strings.Contains(l.Href, "/maps") {
			return l.Href
		}
	}
	return ""
}

// classifyDetails splits the card's text lines on the middle-dot
// separator and classifies each token as phone or address. Phone wins;
// when a token carries both, the phone substring is excised and the
// remainder re-offered as an address candidate.
func classifyDetails(lines []string) (phone, address string) {
	for _, line := range lines {
		for _, part := range strings.Split(line, "·") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if m := phoneRe.FindString(part); m != "" {
				phone = strings.TrimSpace(m)
				rest := strings.TrimSpace(strings.Replace(part, m, "", 1))
				if rest != "" && address == "" {
					if a := cleanAddress(rest); a != "" {
						address = a
					}
				}
				continue
			}
			if address == "" {
				if a := cleanAddress(part); a != "" {
					address = a
				}
			}
		}
	}
	return phone, address
}

// cleanAddress returns "" unless the token plausibly is an address:
// contains digits, is not a rating or opening-hours fragment, and
// survives noise stripping.
func cleanAddress(part string) string {
	// Strip the hours fragments first so "Open 24 Hours 1515 W Koenig Ln"
	// survives as an address.
	cleaned := strings.TrimSpace(hoursNoiseRe.ReplaceAllString(part, ""))
	if !strings.ContainsAny(cleaned, "0123456789") || strings.Contains(strings.ToLower(cleaned), "star") {
		return ""
	}
	if ratingTokenRe.MatchString(cleaned) || bareRatingRe.MatchString(cleaned) || hoursPrefixRe.MatchString(cleaned) {
		return ""
	}
	if openStatusRe.MatchString(cleaned) && openDetailRe.MatchString(cleaned) {
		return ""
	}
	if len(cleaned) <= 5 || allDigitsRe.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// hasStreetSuffix matches suffixes as whole words; substring matching
// would accept nearly anything ("st" is inside "Astoria" and "best").
func hasStreetSuffix(s string) bool {
	if strings.Contains(s, ",") {
		return true
	}
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, tok := range tokens {
		if _, ok := streetSuffixes[tok]; ok {
			return true
		}
	}
	return false
}

type detailInfo struct {
	Phone   string `json:"phone"`
	Website string `json:"website"`
	Address string `json:"address"`
	Owner   string `json:"owner"`
}

const (
	detailWaitTimeout = 8 * time.Second
	detailSettle      = 1500 * time.Millisecond
)

// extractDetails visits the detail pane for records still missing a
// phone or website after the list pass. Per-record failures are logged
// and skipped; they never abort the batch.
func extractDetails(ctx context.Context, page browser.Page, records []listRecord, log *zap.Logger, emit model.ProgressFunc) {
	var targets []int
	for i := range records {
		if records[i].Phone == "" || records[i].Website == "" {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return
	}

	done := 0
	for _, idx := range targets {
		if ctx.Err() != nil {
			return
		}
		rec := &records[idx]

		raw, err := page.Eval(ctx, js.ClickCard, rec.index)
		if err != nil || strings.TrimSpace(string(raw)) != "true" {
			log.Warn("could not open detail pane", zap.String("name", rec.Name), zap.Error(err))
			continue
		}
		_ = page.WaitFor(ctx, js.DetailReady, detailWaitTimeout)
		sleepCtx(ctx, detailSettle)

		infoRaw, err := page.Eval(ctx, js.DetailInfo)
		if err != nil {
			log.Warn("detail extraction failed", zap.String("name", rec.Name), zap.Error(err))
			goBack(ctx, page)
			continue
		}
		var info detailInfo
		if err := json.Unmarshal(infoRaw, &info); err == nil {
			applyDetailInfo(rec, info)
		}
		goBack(ctx, page)

		done++
		emit.Emit(model.Progress{
			Status:  model.StatusProcessing,
			Message: fmt.Sprintf("Detailed info extracted from %d/%d business pages", done, len(targets)),
			Current: done,
			Total:   len(targets),
		})
	}
}

func applyDetailInfo(rec *listRecord, info detailInfo) {
	if rec.Phone == "" {
		if p := strings.TrimSpace(info.Phone); p != "" && (phoneRe.MatchString(p) || loosePhoneRe.MatchString(p)) {
			rec.Phone = p
		}
	}
	if rec.Website == "" && info.Website != "" {
		rec.Website = info.Website
	}
	if rec.Address == "" {
		if a := strings.TrimSpace(info.Address); a != "" && hasStreetSuffix(a) {
			rec.Address = a
		}
	}
	if rec.Owner == "" && info.Owner != "" {
		rec.Owner = info.Owner
	}
}

func goBack(ctx context.Context, page browser.Page) {
	_, _ = page.Eval(ctx, js.HistoryBack)
	_ = page.WaitFor(ctx, js.SelectorPresent, 5*time.Second, resultsSelectorUnion())
}
