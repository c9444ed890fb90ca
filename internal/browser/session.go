// Package browser connects the exporter to a Chromium instance over the
// DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/italolelis/yuque_exporter/internal/automation"
	"github.com/italolelis/yuque_exporter/internal/logctx"
)

const defaultNavigationTimeout = 30 * time.Second

// Config selects how the browser is reached.
type Config struct {
	// Bin is the Chromium binary to launch. Empty lets rod find or fetch one.
	Bin string
	// ControlURL attaches to a running browser instead of launching one.
	ControlURL string
	Headless   bool
	// DownloadDir receives every file the browser downloads.
	DownloadDir       string
	NavigationTimeout time.Duration
}

// Session is a connected browser with download events enabled.
type Session struct {
	browser    *rod.Browser
	launcher   *launcher.Launcher
	downloads  *DownloadSource
	navTimeout time.Duration
}

// Start launches or attaches to a browser and routes its downloads to cfg.DownloadDir.
func Start(ctx context.Context, cfg Config) (*Session, error) {
	logger := logctx.LoggerFromContext(ctx)

	dir, err := filepath.Abs(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve download dir: %w", err)
	}

	s := &Session{navTimeout: cfg.NavigationTimeout}
	if s.navTimeout <= 0 {
		s.navTimeout = defaultNavigationTimeout
	}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}

		if controlURL, err = l.Launch(); err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}

		s.launcher = l
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.cleanupLauncher()

		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	s.browser = b

	if err := (proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		DownloadPath:  dir,
		EventsEnabled: true,
	}).Call(b); err != nil {
		_ = s.Close()

		return nil, fmt.Errorf("enable download events: %w", err)
	}

	s.downloads = NewDownloadSource(dir)
	wait := b.EachEvent(
		func(e *proto.BrowserDownloadWillBegin) { s.downloads.willBegin(e) },
		func(e *proto.BrowserDownloadProgress) { s.downloads.progress(e) },
	)

	go wait()

	logger.Info("browser connected", "control_url", controlURL, "launched", s.launcher != nil, "download_dir", dir)

	return s, nil
}

// Downloads returns the download manager fed by browser events.
func (s *Session) Downloads() *DownloadSource {
	return s.downloads
}

// OpenPage opens url in a new tab and waits for it to load. The returned
// func closes the tab.
func (s *Session) OpenPage(ctx context.Context, pageURL string) (automation.Page, func(), error) {
	p, err := s.browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return nil, nil, fmt.Errorf("open page: %w", err)
	}

	closePage := func() { _ = p.Close() }

	if err := p.Context(ctx).Timeout(s.navTimeout).WaitLoad(); err != nil {
		closePage()

		return nil, nil, fmt.Errorf("load %s: %w", pageURL, err)
	}

	logctx.LoggerFromContext(ctx).Debug("page loaded", "url", pageURL)

	return &Page{page: p}, closePage, nil
}

// CookieJar returns a jar that reads the browser's current cookies on every
// request, so plain HTTP requests carry the same login as the page.
func (s *Session) CookieJar(ctx context.Context) http.CookieJar {
	return &liveJar{
		ctx: ctx,
		read: func() ([]*proto.NetworkCookie, error) {
			b := s.browser.Timeout(cookieTimeout)
			defer b.CancelTimeout()

			return b.GetCookies()
		},
		write: func(params []*proto.NetworkCookieParam) error {
			b := s.browser.Timeout(cookieTimeout)
			defer b.CancelTimeout()

			return b.SetCookies(params)
		},
	}
}

// Close stops a browser launched by Start. An attached browser is left running.
func (s *Session) Close() error {
	if s.launcher == nil {
		return nil
	}

	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}

	s.cleanupLauncher()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}

	return nil
}

func (s *Session) cleanupLauncher() {
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
}
