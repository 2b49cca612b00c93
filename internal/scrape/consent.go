package scrape

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"mapleads/internal/browser"
	"mapleads/internal/js"
)

// Selector chains are data, not code: markup drift is fixed here.
var (
	resultsSelectors = []string{
		`div[role="feed"]`,
		`div[aria-label^="Results for"]`,
		`#searchbox`,
	}

	// Exact accessible labels of the consent button across the languages
	// the surface is known to serve.
	consentLabelSelectors = []string{
		`button[aria-label="Accept all"]`,
		`button[aria-label="I agree"]`,
		`button[aria-label="Alle akzeptieren"]`,
		`button[aria-label="Alles akzeptieren"]`,
		`button[aria-label="Tout accepter"]`,
		`button[aria-label="Aceptar todo"]`,
		`button[aria-label="Accetta tutto"]`,
		`button[aria-label="Alles accepteren"]`,
		`button[aria-label="Aceitar tudo"]`,
		`button[aria-label="Zaakceptuj wszystko"]`,
	}

	consentAttrSelectors = []string{
		`form[action*="consent"] button`,
		`div[aria-modal="true"] button`,
		`div[role="dialog"] button`,
	}

	consentTextLabels = []string{
		"accept all", "i agree", "agree",
		"alle akzeptieren", "alles akzeptieren",
		"tout accepter", "aceptar todo", "accetta tutto",
		"alles accepteren", "aceitar tudo", "zaakceptuj wszystko",
	}
)

// ErrResultsNotFound is the fatal outcome of the resolver: the results
// container never appeared and no consent path helped.
var ErrResultsNotFound = errors.New("unable to find search results; a regional consent wall may be blocking the page (try a VPN or non-EU proxy)")

// Tunable so callers driving fast or slow profiles can trade patience
// for throughput.
var (
	resultsWaitTimeout = 10 * time.Second
	consentWaitTimeout = 8 * time.Second
	consentSettleDelay = 2 * time.Second
	clickTimeout       = 2 * time.Second
	detectorGrace      = 2 * time.Second
)

func resultsSelectorUnion() string {
	return strings.Join(resultsSelectors, ", ")
}

type navOutcome int

const (
	outcomeResults navOutcome = iota
	outcomeConsent
	outcomeNone
)

// resolveNavigation navigates to url and gets the page into a state
// where the results container is present, clicking through a consent
// interstitial if one shows up. Navigation timeouts are tolerated:
// a partial DOM is often enough for the detectors.
func resolveNavigation(ctx context.Context, page browser.Page, url string, log *zap.Logger) error {
	if err := page.Navigate(ctx, url, 60*time.Second); err != nil {
		log.Warn("navigation did not settle, continuing with partial DOM", zap.Error(err))
	}

	switch raceDetectors(ctx, page) {
	case outcomeResults:
		return nil
	case outcomeConsent:
		if clickConsent(ctx, page, log) {
			time.Sleep(consentSettleDelay)
		}
		if err := page.WaitFor(ctx, js.SelectorPresent, resultsWaitTimeout, resultsSelectorUnion()); err == nil {
			return nil
		}
		return ErrResultsNotFound
	default:
		return ErrResultsNotFound
	}
}

// raceDetectors runs three waits concurrently, each with its own
// timeout: the results container, a consent control, and
// consent-indicating body text. The first to fire decides the path.
func raceDetectors(ctx context.Context, page browser.Page) navOutcome {
	sig := make(chan navOutcome, 3)

	go func() {
		if err := page.WaitFor(ctx, js.SelectorPresent, resultsWaitTimeout, resultsSelectorUnion()); err == nil {
			sig <- outcomeResults
		}
	}()
	go func() {
		if err := page.WaitFor(ctx, js.ConsentPresent, consentWaitTimeout); err == nil {
			sig <- outcomeConsent
		}
	}()
	go func() {
		if err := page.WaitFor(ctx, consentBodyText, consentWaitTimeout); err == nil {
			sig <- outcomeConsent
		}
	}()

	select {
	case out := <-sig:
		return out
	case <-time.After(resultsWaitTimeout + detectorGrace):
		return outcomeNone
	case <-ctx.Done():
		return outcomeNone
	}
}

// consentBodyText matches the interstitial copy Google serves before
// the map loads.
var consentBodyText = `
() => {
    const text = (document.body ? document.body.innerText : '').toLowerCase();
    return text.includes('before you continue') || text.includes('bevor sie fortfahren') ||
        text.includes('avant de continuer') || text.includes('antes de continuar') ||
        text.includes('prima di continuare');
}
`

// clickConsent tries the strategies in order: exact label selectors,
// attribute-based selectors, then text-content matching.
func clickConsent(ctx context.Context, page browser.Page, log *zap.Logger) bool {
	for _, sel := range consentLabelSelectors {
		if err := page.Click(ctx, sel, clickTimeout); err == nil {
			log.Debug("consent accepted", zap.String("selector", sel))
			return true
		}
	}
	for _, sel := range consentAttrSelectors {
		if err := page.Click(ctx, sel, clickTimeout); err == nil {
			log.Debug("consent accepted via attribute selector", zap.String("selector", sel))
			return true
		}
	}
	res, err := page.Eval(ctx, js.ClickConsentByText, consentTextLabels)
	if err == nil && strings.TrimSpace(string(res)) == "true" {
		log.Debug("consent accepted via text match")
		return true
	}
	log.Debug("no consent control could be clicked")
	return false
}
