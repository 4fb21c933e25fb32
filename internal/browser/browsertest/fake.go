// Package browsertest provides an in-memory scripted implementation of the
// browser driver contract for tests. Pages expose mutable state plus an
// OnAction hook so a test can model the remote site reacting to clicks and
// keystrokes.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
)

// Driver is a scripted browser.Driver.
type Driver struct {
	mu       sync.Mutex
	Contexts []*Context

	// NewContextErr, when set, fails the next NewContext call once.
	NewContextErr error
	// PageSetup runs on every page created under this driver so tests can
	// install site behaviour for rebuilt contexts too.
	PageSetup func(p *Page)
}

// NewDriver creates an empty scripted driver.
func NewDriver() *Driver { return &Driver{} }

func (d *Driver) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.BrowserContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NewContextErr != nil {
		err := d.NewContextErr
		d.NewContextErr = nil
		return nil, err
	}
	c := &Context{driver: d, Options: opts}
	d.Contexts = append(d.Contexts, c)
	return c, nil
}

// LastContext returns the most recently created context.
func (d *Driver) LastContext() *Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Contexts) == 0 {
		return nil
	}
	return d.Contexts[len(d.Contexts)-1]
}

// Context is a scripted browser.BrowserContext.
type Context struct {
	mu      sync.Mutex
	driver  *Driver
	Options browser.ContextOptions

	InitScripts []string
	Handler     browser.RouteHandler
	Pages       []*Page
	Closed      bool

	// NewPageErr fails the next NewPage call once.
	NewPageErr error
}

func (c *Context) AddInitScript(script string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InitScripts = append(c.InitScripts, script)
	return nil
}

func (c *Context) Route(handler browser.RouteHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Handler = handler
	return nil
}

func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	c.mu.Lock()
	if c.NewPageErr != nil {
		err := c.NewPageErr
		c.NewPageErr = nil
		c.mu.Unlock()
		return nil, err
	}
	p := NewPage()
	p.ctx = c
	c.Pages = append(c.Pages, p)
	setup := func(p *Page) {}
	if c.driver != nil && c.driver.PageSetup != nil {
		setup = c.driver.PageSetup
	}
	c.mu.Unlock()
	setup(p)
	return p, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Page is a scripted browser.Page. Tests mutate the exported fields to
// stage what the automation will observe.
type Page struct {
	mu  sync.Mutex
	ctx *Context

	CurrentURL string
	PageTitle  string
	BodyText   string

	Visible map[string]bool
	Attrs   map[string]map[string]string
	Texts   map[string]string
	Els     map[string][]*Element

	Clicks []string
	Typed  map[string]string
	Keys   []string

	// OnAction observes and may react to every interaction. kind is one
	// of goto, click, type, press, evaluate, mouse, wheel, close.
	OnAction func(p *Page, kind, arg string)

	// GotoErr, when set, fails every Goto with this error.
	GotoErr error
	// GotoStatus is the HTTP status Goto responses report (default 200).
	GotoStatus int
	// GotoHeaders are extra response headers for Goto responses.
	GotoHeaders map[string]string

	EvaluateFn func(js string) (any, error)

	responseFns []func(browser.Response)
	consoleFns  []func(string)
	loadFns     []func()

	Closed bool
}

// NewPage creates an empty scripted page.
func NewPage() *Page {
	return &Page{
		Visible: make(map[string]bool),
		Attrs:   make(map[string]map[string]string),
		Texts:   make(map[string]string),
		Els:     make(map[string][]*Element),
		Typed:   make(map[string]string),
	}
}

func (p *Page) fire(kind, arg string) {
	if p.OnAction != nil {
		p.OnAction(p, kind, arg)
	}
}

func (p *Page) Goto(ctx context.Context, url string) (browser.Response, error) {
	p.mu.Lock()
	if p.GotoErr != nil {
		err := p.GotoErr
		p.mu.Unlock()
		return nil, err
	}
	p.CurrentURL = url
	status := p.GotoStatus
	if status == 0 {
		status = 200
	}
	headers := p.GotoHeaders
	p.mu.Unlock()

	p.fire("goto", url)

	resp := &Response{URLVal: url, StatusVal: status, HeadersVal: headers}
	p.EmitResponse(resp)
	p.EmitLoad()
	return resp, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL
}

// SetURL stages the current URL without a navigation, as a site-side
// redirect would.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.CurrentURL = url
	p.mu.Unlock()
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageTitle, nil
}

func (p *Page) InnerText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.BodyText, nil
}

func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Visible[selector], nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	if !p.Visible[selector] {
		p.mu.Unlock()
		return fmt.Errorf("browsertest: click %q: element not visible", selector)
	}
	p.Clicks = append(p.Clicks, selector)
	p.mu.Unlock()
	p.fire("click", selector)
	return nil
}

func (p *Page) PressKey(ctx context.Context, key string) error {
	p.mu.Lock()
	p.Keys = append(p.Keys, key)
	p.mu.Unlock()
	p.fire("press", key)
	return nil
}

func (p *Page) TypeChar(ctx context.Context, selector string, ch rune) error {
	p.mu.Lock()
	p.Typed[selector] += string(ch)
	p.mu.Unlock()
	p.fire("type", selector)
	return nil
}

func (p *Page) Attribute(ctx context.Context, selector, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Attrs[selector][name], nil
}

func (p *Page) TextContent(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Texts[selector], nil
}

func (p *Page) Elements(ctx context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.Els[selector]
	out := make([]browser.Element, len(els))
	for i, e := range els {
		out[i] = e
	}
	return out, nil
}

func (p *Page) Evaluate(ctx context.Context, js string) (any, error) {
	p.fire("evaluate", js)
	if p.EvaluateFn != nil {
		return p.EvaluateFn(js)
	}
	return nil, nil
}

func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	p.fire("mouse", "move")
	return nil
}

func (p *Page) MouseClick(ctx context.Context, x, y float64) error {
	p.fire("mouse", "click")
	return nil
}

func (p *Page) Wheel(ctx context.Context, dx, dy float64) error {
	p.fire("wheel", "")
	return nil
}

func (p *Page) OnResponse(fn func(browser.Response)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responseFns = append(p.responseFns, fn)
}

func (p *Page) OnConsole(fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consoleFns = append(p.consoleFns, fn)
}

func (p *Page) OnLoad(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadFns = append(p.loadFns, fn)
}

// EmitResponse delivers a response event to registered listeners.
func (p *Page) EmitResponse(r browser.Response) {
	p.mu.Lock()
	fns := append([]func(browser.Response){}, p.responseFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

// EmitConsole delivers a console message to registered listeners.
func (p *Page) EmitConsole(text string) {
	p.mu.Lock()
	fns := append([]func(string){}, p.consoleFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(text)
	}
}

// EmitLoad delivers a load event to registered listeners.
func (p *Page) EmitLoad() {
	p.mu.Lock()
	fns := append([]func(){}, p.loadFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	p.Closed = true
	p.mu.Unlock()
	p.fire("close", "")
	return nil
}

// Show marks selectors visible.
func (p *Page) Show(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.Visible[s] = true
	}
}

// Hide marks selectors not visible.
func (p *Page) Hide(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.Visible[s] = false
	}
}

// SetAttr stages an attribute value.
func (p *Page) SetAttr(selector, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Attrs[selector] == nil {
		p.Attrs[selector] = make(map[string]string)
	}
	p.Attrs[selector][name] = value
}

// Element is a scripted browser.Element.
type Element struct {
	mu      sync.Mutex
	TextVal string
	AttrVal map[string]string
	Hidden  bool
	Clicked bool
	ClickFn func()
}

func (e *Element) Click(ctx context.Context) error {
	e.mu.Lock()
	e.Clicked = true
	fn := e.ClickFn
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (e *Element) TextContent(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.TextVal, nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.AttrVal[name], nil
}

func (e *Element) IsVisible(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Hidden, nil
}

// Response is a scripted browser.Response.
type Response struct {
	URLVal     string
	StatusVal  int
	HeadersVal map[string]string
	BodyVal    []byte
}

func (r *Response) URL() string { return r.URLVal }
func (r *Response) Status() int { return r.StatusVal }

func (r *Response) Header(name string) string {
	for k, v := range r.HeadersVal {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (r *Response) Body(ctx context.Context) ([]byte, error) { return r.BodyVal, nil }

// Route is a scripted browser.Route for exercising request interceptors.
type Route struct {
	Req       *RouteRequest
	Continued bool
	Overrides browser.RouteOverrides
}

func (r *Route) Request() browser.Request { return r.Req }

func (r *Route) Continue(overrides browser.RouteOverrides) {
	r.Continued = true
	r.Overrides = overrides
}

// RouteRequest is a scripted browser.Request.
type RouteRequest struct {
	URLVal     string
	MethodVal  string
	TypeVal    string
	HeadersVal map[string]string
}

func (r *RouteRequest) URL() string { return r.URLVal }

func (r *RouteRequest) Method() string {
	if r.MethodVal == "" {
		return "GET"
	}
	return r.MethodVal
}

func (r *RouteRequest) ResourceType() string       { return r.TypeVal }
func (r *RouteRequest) Headers() map[string]string { return r.HeadersVal }
