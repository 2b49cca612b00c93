// Package browser wraps go-rod behind narrow Session and Page
// capabilities so the crawl pipeline never touches the driver directly
// and tests can substitute fakes.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

	// Graceful close budget before the browser process is killed.
	closeTimeout = 5 * time.Second
)

// Page is the minimal surface the pipeline needs from a browser tab.
type Page interface {
	// Navigate goes to url and waits for the load event. Callers are
	// expected to tolerate timeout errors: a partially loaded DOM is
	// often usable.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Eval runs a JS function on the page and returns its result as JSON.
	Eval(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error)
	// WaitFor polls a JS predicate until it is truthy or the timeout hits.
	WaitFor(ctx context.Context, predicate string, timeout time.Duration, args ...interface{}) error
	// Click resolves selector and clicks the element.
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Close() error
}

// Session is one launched browser.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	// NewBlockedPage returns a page that denies images, stylesheets,
	// fonts and media at the network layer.
	NewBlockedPage(ctx context.Context) (Page, error)
	Close() error
}

type LaunchOptions struct {
	Headless bool
}

type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	log      *zap.Logger
}

// Launch starts a Chrome instance and connects to it.
func Launch(ctx context.Context, opts LaunchOptions, log *zap.Logger) (Session, error) {
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", "1920,1080").
		Set("no-first-run").
		Set("no-default-browser-check")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	// The browser is deliberately not bound to ctx: cancellation is
	// applied per operation so a stopping run can still read out the
	// page before Close.
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	_ = b.IgnoreCertErrors(true)

	return &rodSession{browser: b, launcher: l, log: log}, nil
}

func (s *rodSession) NewPage(ctx context.Context) (Page, error) {
	p, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	p = p.Context(ctx)

	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		s.log.Debug("failed setting user agent", zap.Error(err))
	}
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}); err != nil {
		s.log.Debug("failed setting viewport", zap.Error(err))
	}

	return &rodPage{page: p, log: s.log}, nil
}

func (s *rodSession) NewBlockedPage(ctx context.Context) (Page, error) {
	page, err := s.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	rp := page.(*rodPage)

	router := rp.page.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		switch h.Request.Type() {
		case proto.NetworkResourceTypeImage,
			proto.NetworkResourceTypeStylesheet,
			proto.NetworkResourceTypeFont,
			proto.NetworkResourceTypeMedia:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		default:
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})
	if err != nil {
		_ = rp.Close()
		return nil, fmt.Errorf("installing request filter: %w", err)
	}
	go router.Run()
	rp.router = router

	return rp, nil
}

// Close tries a graceful shutdown and falls back to killing the process
// so a hung browser never leaves a zombie behind.
func (s *rodSession) Close() error {
	done := make(chan error, 1)
	go func() { done <- s.browser.Close() }()

	select {
	case err := <-done:
		s.launcher.Cleanup()
		return err
	case <-time.After(closeTimeout):
		s.log.Warn("browser close timed out, killing process")
		s.launcher.Kill()
		s.launcher.Cleanup()
		return nil
	}
}

type rodPage struct {
	page   *rod.Page
	router *rod.HijackRouter
	log    *zap.Logger
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) Eval(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error) {
	res, err := p.page.Context(ctx).Timeout(30 * time.Second).Eval(script, args...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res.Value.Val())
}

func (p *rodPage) WaitFor(ctx context.Context, predicate string, timeout time.Duration, args ...interface{}) error {
	page := p.page.Context(ctx).Timeout(timeout)
	return page.Wait(rod.Eval(predicate, args...))
}

func (p *rodPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	el, err := page.Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Close() error {
	if p.router != nil {
		_ = p.router.Stop()
	}
	return p.page.Close()
}
