// Package enrich visits business websites with a resource-blocked page
// per worker and mines them for contact emails.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"mapleads/internal/browser"
	"mapleads/internal/js"
	"mapleads/internal/model"
)

type Options struct {
	Concurrency int
	PageTimeout time.Duration
	Deep        bool
	VerifyMX    bool
}

// OptionsForSpeed maps a speed profile to worker count and per-page
// timeout. An explicit limit overrides the profile's concurrency.
func OptionsForSpeed(speed model.Speed, limit int, deep, verifyMX bool) Options {
	opts := Options{Concurrency: 5, PageTimeout: 15 * time.Second}
	switch speed {
	case model.SpeedFast:
		opts = Options{Concurrency: 10, PageTimeout: 14 * time.Second}
	case model.SpeedUltraFast:
		opts = Options{Concurrency: 12, PageTimeout: 10 * time.Second}
	}
	if limit > 0 {
		opts.Concurrency = limit
	}
	opts.Deep = deep
	opts.VerifyMX = verifyMX
	return opts
}

// Run scans every record's website and fills Email in place. Records
// without a website keep an empty email; so do records whose scan
// fails for any reason. Run returns once all workers have drained.
func Run(ctx context.Context, sess browser.Session, records []model.BusinessRecord, opts Options, log *zap.Logger, emit model.ProgressFunc) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	total := 0
	for i := range records {
		if records[i].Website != "" {
			total++
		}
	}
	if total == 0 {
		return
	}

	var cursor, done atomic.Int64
	var wg sync.WaitGroup
	workers := opts.Concurrency
	if workers > total {
		workers = total
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			page, err := sess.NewBlockedPage(ctx)
			if err != nil {
				log.Warn("email worker could not open page", zap.Error(err))
				return
			}
			defer page.Close()

			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(records) {
					return
				}
				if ctx.Err() != nil {
					return
				}
				rec := &records[idx]
				if rec.Website == "" {
					continue
				}

				email := scanWebsite(ctx, page, rec.Website, opts, log)
				if email != "" && opts.VerifyMX && !HasMX(emailDomain(email)) {
					log.Debug("discarding email with no MX", zap.String("email", email))
					email = ""
				}
				rec.Email = email

				n := int(done.Add(1))
				emit.Emit(model.Progress{
					Status:  model.StatusProcessing,
					Message: fmt.Sprintf("Scanned %d/%d websites for emails", n, total),
					Current: n,
					Total:   total,
				})
			}
		}()
	}
	wg.Wait()
}

// scanWebsite loads one site and extracts the best email it can find.
// In deep mode it follows the single most promising contact-like link
// when the landing page yields nothing.
func scanWebsite(ctx context.Context, page browser.Page, site string, opts Options, log *zap.Logger) string {
	html, err := fetchHTML(ctx, page, site, opts.PageTimeout)
	if err != nil {
		log.Debug("website scan failed", zap.String("website", site), zap.Error(err))
		return ""
	}
	if email := extractEmail(html); email != "" {
		return email
	}
	if !opts.Deep {
		return ""
	}
	next := bestContactLink(html, site)
	if next == "" {
		return ""
	}
	html, err = fetchHTML(ctx, page, next, opts.PageTimeout)
	if err != nil {
		log.Debug("contact page scan failed", zap.String("url", next), zap.Error(err))
		return ""
	}
	return extractEmail(html)
}

func fetchHTML(ctx context.Context, page browser.Page, url string, timeout time.Duration) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	if err := page.Navigate(ctx, url, timeout); err != nil {
		return "", err
	}
	raw, err := page.Eval(ctx, js.PageHTML)
	if err != nil {
		return "", err
	}
	var html string
	if err := json.Unmarshal(raw, &html); err != nil {
		return "", err
	}
	return html, nil
}

var (
	emailRe = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)

	deobfuscator = strings.NewReplacer(
		"[at]", "@", "(at)", "@", " [at] ", "@", " (at) ", "@",
		"[dot]", ".", "(dot)", ".", " [dot] ", ".", " (dot) ", ".",
	)

	assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

	placeholderDomains = []string{
		"example.com", "sentry.io", "yourdomain.com", "domain.com",
		"email.com", "yourcompany.com",
	}

	businessPrefixRe = regexp.MustCompile(`(?i)^(info|contact|support|hello|admin|sales|team|office)@`)
)

// extractEmail mines a page for the best candidate address: mailto
// links win, then de-obfuscated body text. Among body candidates a
// recognizable business prefix is preferred over the first hit.
func extractEmail(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return firstValidEmail(deobfuscator.Replace(html))
	}

	var fromMailto string
	doc.Find(`a[href^="mailto:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.Index(addr, "?"); i >= 0 {
			addr = addr[:i]
		}
		if validEmail(addr) {
			fromMailto = strings.ToLower(addr)
			return false
		}
		return true
	})
	if fromMailto != "" {
		return fromMailto
	}

	return firstValidEmail(deobfuscator.Replace(doc.Text()))
}

func firstValidEmail(text string) string {
	matches := emailRe.FindAllString(text, 25)
	var first string
	for _, m := range matches {
		m = strings.ToLower(m)
		if !validEmail(m) {
			continue
		}
		if businessPrefixRe.MatchString(m) {
			return m
		}
		if first == "" {
			first = m
		}
	}
	return first
}

func validEmail(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !emailRe.MatchString(addr) {
		return false
	}
	for _, s := range assetSuffixes {
		if strings.HasSuffix(addr, s) {
			return false
		}
	}
	domain := emailDomain(addr)
	for _, d := range placeholderDomains {
		if domain == d {
			return false
		}
	}
	return true
}

func emailDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

type scoredLink struct {
	href  string
	score int
}

// bestContactLink ranks on-site links by how contact-like they look and
// returns the strongest candidate, resolved against the site origin.
func bestContactLink(html, site string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	var links []scoredLink
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
			return
		}
		score := linkScore(strings.ToLower(href), strings.ToLower(strings.TrimSpace(s.Text())))
		if score > 0 {
			links = append(links, scoredLink{href: href, score: score})
		}
	})
	if len(links) == 0 {
		return ""
	}
	sort.SliceStable(links, func(i, j int) bool { return links[i].score > links[j].score })
	return resolveLink(site, links[0].href)
}

func linkScore(href, text string) int {
	combined := href + " " + text
	switch {
	case strings.Contains(combined, "contact") || strings.Contains(combined, "kontakt"):
		return 100
	case strings.Contains(combined, "get-in-touch") || strings.Contains(combined, "get in touch"):
		return 80
	case strings.Contains(combined, "support"):
		return 60
	case strings.Contains(combined, "about") || strings.Contains(combined, "impressum"):
		return 40
	}
	return 0
}

func resolveLink(site, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base := site
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return base + href
}
