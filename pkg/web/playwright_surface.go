/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: playwright_surface.go
Description: Surface implementation on playwright-go. Offered as the alternative driver
for devices whose pages need Playwright's auto-waiting locators; queries run through the
same in-page scripts as the chromedp driver.
*/

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/playwright-community/playwright-go"
)

// PlaywrightOptions configures the Playwright-driven browser
type PlaywrightOptions struct {
	Headless         bool
	Width            int
	Height           int
	Mobile           bool
	OperationTimeout time.Duration
	// Install downloads the driver and browsers before launching
	Install bool
}

// PlaywrightSurface implements Surface using playwright-go
type PlaywrightSurface struct {
	pw        *playwright.Playwright
	browser   playwright.Browser
	page      playwright.Page
	timeoutMs float64
	logs      []interfaces.ConsoleMessage
	logMu     sync.Mutex
}

// NewPlaywrightSurface starts Playwright, launches Chromium and opens a page
func NewPlaywrightSurface(opts PlaywrightOptions) (*PlaywrightSurface, error) {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 30 * time.Second
	}
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	ctxOpts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
		IsMobile:          playwright.Bool(opts.Mobile),
	}
	if opts.Width > 0 && opts.Height > 0 {
		ctxOpts.Viewport = &playwright.Size{Width: opts.Width, Height: opts.Height}
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	timeoutMs := float64(opts.OperationTimeout.Milliseconds())
	page.SetDefaultTimeout(timeoutMs)

	s := &PlaywrightSurface{pw: pw, browser: browser, page: page, timeoutMs: timeoutMs}
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		s.appendLog(msg.Type(), msg.Text())
	})
	page.OnPageError(func(err error) {
		s.appendLog("exception", err.Error())
	})
	return s, nil
}

func (s *PlaywrightSurface) appendLog(level, text string) {
	s.logMu.Lock()
	s.logs = append(s.logs, interfaces.ConsoleMessage{Level: level, Text: text, Timestamp: time.Now()})
	s.logMu.Unlock()
}

// wrap maps driver errors onto the sentinel errors
func (s *PlaywrightSurface) wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if s.page.IsClosed() || !s.browser.IsConnected() {
		return fmt.Errorf("%w: %v", ErrSurfaceLost, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *PlaywrightSurface) locator(loc Locator) playwright.Locator {
	l := s.page.Locator(loc.CSS)
	if loc.Text != "" {
		l = l.Filter(playwright.LocatorFilterOptions{HasText: loc.Text})
	}
	return l.Nth(loc.Nth)
}

func (s *PlaywrightSurface) evaluate(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.page.Evaluate(script)
	if err != nil {
		return s.wrap(ctx, err)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode script result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (s *PlaywrightSurface) mutate(ctx context.Context, loc Locator, body string, arg any) error {
	var code string
	if err := s.evaluate(ctx, mutateScript(loc, body, arg), &code); err != nil {
		return err
	}
	return scriptResult(loc, code)
}

func (s *PlaywrightSurface) Goto(ctx context.Context, url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(s.timeoutMs),
	})
	return s.wrap(ctx, err)
}

func (s *PlaywrightSurface) Reload(ctx context.Context) error {
	_, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return s.wrap(ctx, err)
}

func (s *PlaywrightSurface) WaitForLoad(ctx context.Context) error {
	return s.wrap(ctx, s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateDomcontentloaded,
	}))
}

func (s *PlaywrightSurface) URL(ctx context.Context) (string, error) {
	if s.page.IsClosed() {
		return "", ErrSurfaceLost
	}
	return s.page.URL(), nil
}

func (s *PlaywrightSurface) Title(ctx context.Context) (string, error) {
	t, err := s.page.Title()
	return t, s.wrap(ctx, err)
}

func (s *PlaywrightSurface) Content(ctx context.Context) (string, error) {
	c, err := s.page.Content()
	return c, s.wrap(ctx, err)
}

func (s *PlaywrightSurface) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := s.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
	return buf, s.wrap(ctx, err)
}

func (s *PlaywrightSurface) Query(ctx context.Context, loc Locator) ([]Element, error) {
	var els []Element
	if err := s.evaluate(ctx, queryScript(loc), &els); err != nil {
		return nil, err
	}
	return els, nil
}

// Fill types into the element through Playwright's actionability checks
func (s *PlaywrightSurface) Fill(ctx context.Context, loc Locator, value string) error {
	if _, err := First(ctx, s, loc); err != nil {
		return err
	}
	err := s.locator(loc).Fill(value, playwright.LocatorFillOptions{Timeout: playwright.Float(s.timeoutMs)})
	if err = s.wrap(ctx, err); err != nil {
		if IsFatal(err) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%s: %w: %v", loc, ErrInputRejected, err)
	}
	got, err := InputValue(ctx, s, loc)
	if err != nil {
		return err
	}
	if got != value {
		return fmt.Errorf("%s: %w: value reads back as %q", loc, ErrInputRejected, got)
	}
	return nil
}

func (s *PlaywrightSurface) SetValue(ctx context.Context, loc Locator, value string) error {
	return s.mutate(ctx, loc, setValueBody, value)
}

func (s *PlaywrightSurface) Clear(ctx context.Context, loc Locator) error {
	return s.mutate(ctx, loc, clearBody, nil)
}

func (s *PlaywrightSurface) Click(ctx context.Context, loc Locator) error {
	el, err := First(ctx, s, loc)
	if err != nil {
		return err
	}
	if !el.Visible {
		return s.mutate(ctx, loc, clickBody, nil)
	}
	return s.wrap(ctx, s.locator(loc).Click(playwright.LocatorClickOptions{Timeout: playwright.Float(s.timeoutMs)}))
}

func (s *PlaywrightSurface) SetChecked(ctx context.Context, loc Locator, checked bool) error {
	return s.mutate(ctx, loc, setCheckedBody, checked)
}

func (s *PlaywrightSurface) SelectOption(ctx context.Context, loc Locator, value string) error {
	return s.mutate(ctx, loc, selectOptionBody, value)
}

func (s *PlaywrightSurface) DispatchEvent(ctx context.Context, loc Locator, event string) error {
	return s.mutate(ctx, loc, dispatchBody, event)
}

func (s *PlaywrightSurface) GlobalFunctions(ctx context.Context, q FunctionQuery) ([]ScriptFunction, error) {
	var fns []ScriptFunction
	if err := s.evaluate(ctx, globalFunctionsScript(q), &fns); err != nil {
		return nil, err
	}
	return fns, nil
}

func (s *PlaywrightSurface) ConsoleMessages() []interfaces.ConsoleMessage {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	logs := s.logs
	s.logs = nil
	return logs
}

// Close closes the browser and stops the Playwright driver
func (s *PlaywrightSurface) Close() error {
	var firstErr error
	if err := s.browser.Close(); err != nil {
		firstErr = err
	}
	if err := s.pw.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
