// Package browser defines the contract the automation core expects from
// the underlying browser driver, and the session factory that configures a
// driver context with fingerprint, proxy and anti-detection interceptors
// before the first navigation. The driver implementation itself lives
// outside this codebase.
package browser

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Driver launches browser contexts. Implemented by the external driver
// binding; faked in tests.
type Driver interface {
	NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error)
}

// Viewport is the page viewport in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ContextOptions configures one isolated browser context.
type ContextOptions struct {
	ProfileDir        string
	Proxy             string
	UserAgent         string
	Viewport          Viewport
	ScreenWidth       int
	ScreenHeight      int
	DeviceScaleFactor float64
	IsMobile          bool
	Locale            string
	Timezone          string
	Headless          bool
}

// BrowserContext is one isolated profile-bound browsing context.
type BrowserContext interface {
	// AddInitScript registers a script evaluated in every page before any
	// page script runs. Must be called before NewPage.
	AddInitScript(script string) error
	// Route installs the unified request interceptor.
	Route(handler RouteHandler) error
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// RouteHandler decides what happens to an intercepted request.
type RouteHandler func(Route)

// Route is one intercepted in-flight request.
type Route interface {
	Request() Request
	// Continue releases the request, optionally with replaced headers.
	Continue(overrides RouteOverrides)
}

// RouteOverrides carries request mutations applied on Continue.
type RouteOverrides struct {
	// Headers, when non-nil, fully replaces the outgoing header set.
	// Order of the slice is preserved on the wire.
	Headers []Header
}

// Header is one ordered request header.
type Header struct {
	Name  string
	Value string
}

// Request describes an intercepted request.
type Request interface {
	URL() string
	Method() string
	// ResourceType is the driver's classification: document, xhr, fetch,
	// script, stylesheet, image, media, font, other.
	ResourceType() string
	Headers() map[string]string
}

// Response describes a finished network response.
type Response interface {
	URL() string
	Status() int
	Header(name string) string
	Body(ctx context.Context) ([]byte, error)
}

// Page is a single tab.
type Page interface {
	Goto(ctx context.Context, url string) (Response, error)
	URL() string
	Title(ctx context.Context) (string, error)
	// InnerText returns the rendered text of the whole document.
	InnerText(ctx context.Context) (string, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	// PressKey sends a bare key (e.g. "Escape", "Enter") to the page.
	PressKey(ctx context.Context, key string) error
	// TypeChar sends a single character to the focused element.
	TypeChar(ctx context.Context, selector string, ch rune) error
	Attribute(ctx context.Context, selector, name string) (string, error)
	TextContent(ctx context.Context, selector string) (string, error)
	Elements(ctx context.Context, selector string) ([]Element, error)
	Evaluate(ctx context.Context, js string) (any, error)
	MouseMove(ctx context.Context, x, y float64) error
	MouseClick(ctx context.Context, x, y float64) error
	Wheel(ctx context.Context, deltaX, deltaY float64) error
	OnResponse(fn func(Response))
	OnConsole(fn func(text string))
	OnLoad(fn func())
	Close(ctx context.Context) error
}

// Element is a resolved DOM node handle.
type Element interface {
	Click(ctx context.Context) error
	TextContent(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	IsVisible(ctx context.Context) (bool, error)
}

// ErrTargetClosed is the canonical "page or context went away" failure.
// Drivers surface it with varying wording; IsTargetClosed normalizes.
var ErrTargetClosed = errors.New("browser: target closed")

// IsTargetClosed reports whether err means the page/context was closed
// underneath us, which the caller may recover from with one fresh context.
func IsTargetClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTargetClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "target page, context or browser has been closed")
}

// WaitOptions tunes a smart wait.
type WaitOptions struct {
	// Initial short poll window.
	Initial time.Duration
	// Extended window used only when the element was absent after Initial.
	Extended time.Duration
	// Poll interval.
	Interval time.Duration
}

// DefaultWait is the standard smart-wait profile: a short first window
// extended once if the condition was not yet met. Fixed long sleeps are
// deliberately not offered.
var DefaultWait = WaitOptions{
	Initial:  1500 * time.Millisecond,
	Extended: 4 * time.Second,
	Interval: 100 * time.Millisecond,
}

// WaitVisible polls for the selector with the smart-wait profile. Returns
// false (not an error) when the element never appeared.
func WaitVisible(ctx context.Context, page Page, selector string, opts WaitOptions) (bool, error) {
	if opts.Interval <= 0 {
		opts = DefaultWait
	}
	deadline := time.Now().Add(opts.Initial)
	extended := false
	for {
		visible, err := page.IsVisible(ctx, selector)
		if err != nil {
			return false, err
		}
		if visible {
			return true, nil
		}
		if time.Now().After(deadline) {
			if extended {
				return false, nil
			}
			extended = true
			deadline = time.Now().Add(opts.Extended)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
}

// WaitFor polls an arbitrary condition with the same smart-wait shape.
func WaitFor(ctx context.Context, opts WaitOptions, cond func(context.Context) (bool, error)) (bool, error) {
	if opts.Interval <= 0 {
		opts = DefaultWait
	}
	deadline := time.Now().Add(opts.Initial)
	extended := false
	for {
		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			if extended {
				return false, nil
			}
			extended = true
			deadline = time.Now().Add(opts.Extended)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
}
