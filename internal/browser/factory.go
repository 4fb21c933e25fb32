package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

// Hardener installs anti-detection measures on a fresh context. It runs
// before the first page is opened; a session whose hardener failed is
// never used.
type Hardener func(bc BrowserContext, fp Fingerprint) error

// FactoryConfig carries the persona-independent session settings.
type FactoryConfig struct {
	ProfilesRoot string
	Headless     bool
	Locale       string
	Timezone     string
	HomeURL      string
}

// Factory builds configured browser sessions bound to per-account
// persistent profiles.
type Factory struct {
	driver   Driver
	versions *VersionCache
	cfg      FactoryConfig
	harden   Hardener
}

// NewFactory wires a factory over the external driver.
func NewFactory(driver Driver, versions *VersionCache, cfg FactoryConfig, harden Hardener) *Factory {
	return &Factory{driver: driver, versions: versions, cfg: cfg, harden: harden}
}

// Session is one live browser context plus its opening page. Close is
// idempotent and must run on every exit path; the pipeline guarantees at
// most one live session per persona.
type Session struct {
	Email       string
	Persona     Persona
	Fingerprint Fingerprint
	Context     BrowserContext
	Page        Page

	closeOnce sync.Once
	closeErr  error
}

// Close tears the context down. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.Context != nil {
			s.closeErr = s.Context.Close()
		}
	})
	return s.closeErr
}

// NewSession opens a hardened context for the account and persona and
// navigates to the rewards home. All interceptors are installed before
// the navigation. On any failure the partially built context is closed.
func (f *Factory) NewSession(ctx context.Context, email string, persona Persona, proxy string) (*Session, error) {
	fp := NewFingerprint(persona, f.versions.Version(ctx))

	opts := ContextOptions{
		ProfileDir:        filepath.Join(f.cfg.ProfilesRoot, profileName(email), string(persona)),
		Proxy:             proxy,
		UserAgent:         fp.UserAgent,
		Viewport:          fp.Viewport,
		ScreenWidth:       fp.ScreenWidth,
		ScreenHeight:      fp.ScreenHeight,
		DeviceScaleFactor: fp.DeviceScaleFactor,
		IsMobile:          persona == Mobile,
		Locale:            f.cfg.Locale,
		Timezone:          f.cfg.Timezone,
		Headless:          f.cfg.Headless,
	}

	bc, err := f.driver.NewContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("browser: new context: %w", err)
	}

	if f.harden != nil {
		if err := f.harden(bc, fp); err != nil {
			bc.Close()
			return nil, fmt.Errorf("browser: harden context: %w", err)
		}
	}

	page, err := bc.NewPage(ctx)
	if err != nil {
		bc.Close()
		return nil, fmt.Errorf("browser: open page: %w", err)
	}

	if f.cfg.HomeURL != "" {
		if _, err := page.Goto(ctx, f.cfg.HomeURL); err != nil {
			bc.Close()
			return nil, fmt.Errorf("browser: open rewards home: %w", err)
		}
	}

	logger.Debug("session ready",
		"account", email, "persona", string(persona),
		"viewport", fmt.Sprintf("%dx%d", fp.Viewport.Width, fp.Viewport.Height))

	return &Session{
		Email:       email,
		Persona:     persona,
		Fingerprint: fp,
		Context:     bc,
		Page:        page,
	}, nil
}

// NewSessionWithRetry rebuilds the context exactly once when the first
// attempt dies with a closed-target error; a second failure is fatal for
// this flow.
func (f *Factory) NewSessionWithRetry(ctx context.Context, email string, persona Persona, proxy string) (*Session, error) {
	s, err := f.NewSession(ctx, email, persona, proxy)
	if err != nil && IsTargetClosed(err) {
		logger.Warn("context closed during setup, rebuilding once", "account", email)
		return f.NewSession(ctx, email, persona, proxy)
	}
	return s, err
}

func profileName(email string) string {
	r := strings.NewReplacer("@", "_at_", "/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(strings.ToLower(email))
}
