package navigator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagenav/navigator/internal/browser"
	"github.com/hazyhaar/pagenav/relay"
	"github.com/hazyhaar/pagenav/settings"
)

// Session is an engine attached to a live Chrome tab, with its keyboard
// surface, settings subscription and relay actions wired.
type Session struct {
	Engine *Engine
	Relay  *relay.Router

	mgr    *browser.Manager
	tab    *browser.LivePage
	logger *slog.Logger
}

// OpenSession launches (or connects to) Chrome, opens pageURL and starts
// an engine on it. store may be nil. The session lives until ctx is done
// or Close is called.
func OpenSession(ctx context.Context, cfg *FileConfig, pageURL string, store *settings.Store, logger *slog.Logger) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headless:         cfg.Browser.Headless(),
		Bin:              cfg.Browser.Bin,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	tab, err := browser.OpenTab(ctx, mgr, pageURL, browser.TabOptions{
		Stealth:       true,
		BridgeTimeout: cfg.Bridge.Timeout,
		LoadTimeout:   cfg.Bridge.LoadTimeout,
		Logger:        logger,
	})
	if err != nil {
		mgr.Close()
		return nil, err
	}

	s := settings.Defaults()
	if store != nil {
		if s, err = store.Read(ctx); err != nil {
			tab.Close()
			mgr.Close()
			return nil, fmt.Errorf("navigator: read settings: %w", err)
		}
	}

	sess := &Session{mgr: mgr, tab: tab, logger: logger}
	sess.Engine = New(Config{
		Page:             tab,
		Settings:         s,
		CacheTTL:         cfg.Engine.CacheTTL,
		FeedbackDuration: cfg.Engine.FeedbackDuration,
		Logger:           logger,
		OnSettings: func(s settings.Settings) {
			if err := tab.SetKeysEnabled(ctx, s.Enabled); err != nil {
				logger.Warn("navigator: sync keyboard state", "error", err)
			}
		},
	})
	if err := tab.SetKeysEnabled(ctx, s.Enabled); err != nil {
		logger.Warn("navigator: sync keyboard state", "error", err)
	}

	tab.OnKey(func(k browser.Key) {
		out, handled, err := sess.Engine.HandleKey(ctx, KeyEvent{Key: k.Key, Tag: k.Tag, Editable: k.Editable})
		if err != nil {
			logger.Warn("navigator: key navigation failed", "key", k.Key, "error", err)
			return
		}
		if handled {
			logger.Info("navigator: key navigation", "key", k.Key, "action", out.Action, "url", out.URL, "element", out.Element)
		}
	})
	tab.OnReload(func() {
		if err := sess.Engine.Rewatch(ctx); err != nil && !errors.Is(err, ErrWatcherClosed) {
			logger.Warn("navigator: re-observe after load", "error", err)
		}
	})

	if err := sess.Engine.Start(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	sess.Relay = relay.NewRouter(logger)
	sess.Engine.RegisterRelay(sess.Relay, storeOrNil(store))
	if store != nil {
		go store.OnChange(ctx, sess.Engine.UpdateSettings)
	}
	return sess, nil
}

// storeOrNil keeps a nil *settings.Store from becoming a non-nil
// interface.
func storeOrNil(s *settings.Store) SettingsStore {
	if s == nil {
		return nil
	}
	return s
}

// Close stops the engine and closes the tab and browser.
func (s *Session) Close() error {
	s.Engine.Stop()
	return errors.Join(s.tab.Close(), s.mgr.Close())
}

// DryRun resolves one intent against a static HTML document and returns
// the outcome with the effects that would have been performed.
func DryRun(ctx context.Context, r io.Reader, pageURL string, in Intent, s settings.Settings, logger *slog.Logger) (Outcome, []Recorded, error) {
	page, err := LoadStaticPage(r, pageURL)
	if err != nil {
		return Outcome{}, nil, err
	}
	eng := New(Config{
		Page:      page,
		Settings:  s,
		Logger:    logger,
		AfterFunc: func(_ time.Duration, f func()) { f() },
	})
	if err := eng.Start(ctx); err != nil {
		return Outcome{}, nil, err
	}
	defer eng.Stop()
	out, err := eng.Resolve(ctx, in)
	return out, page.Actions(), err
}
