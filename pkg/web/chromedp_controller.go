/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: chromedp_controller.go
Description: Surface implementation using chromedp. Launches headless Chrome with the
requested viewport, collects console and exception events, and performs queries and
mutations through the shared in-page scripts. Real keystrokes are used for Fill so the
input layer can refuse values the way it would for a human operator.
*/

package web

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
)

// ChromeDPOptions configures the headless browser
type ChromeDPOptions struct {
	Headless         bool
	Width            int
	Height           int
	Mobile           bool
	OperationTimeout time.Duration
	ExecPath         string
}

// ChromeDPSurface implements Surface using chromedp
type ChromeDPSurface struct {
	ctx       context.Context
	cancel    context.CancelFunc
	alloc     context.CancelFunc
	opTimeout time.Duration
	logs      []interfaces.ConsoleMessage
	logMu     sync.Mutex
}

// NewChromeDPSurface launches the browser and attaches event listeners
func NewChromeDPSurface(ctx context.Context, opts ChromeDPOptions) (*ChromeDPSurface, error) {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 30 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	if opts.Width > 0 && opts.Height > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.Width, opts.Height))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	c := &ChromeDPSurface{
		ctx:       browserCtx,
		cancel:    browserCancel,
		alloc:     allocCancel,
		opTimeout: opts.OperationTimeout,
	}

	chromedp.ListenTarget(c.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			parts := make([]string, 0, len(e.Args))
			for _, arg := range e.Args {
				parts = append(parts, remoteObjectText(arg))
			}
			c.appendLog(string(e.Type), strings.Join(parts, " "))
		case *runtime.EventExceptionThrown:
			c.appendLog("exception", e.ExceptionDetails.Error())
		}
	})

	actions := []chromedp.Action{runtime.Enable()}
	if opts.Width > 0 && opts.Height > 0 {
		var vpOpts []chromedp.EmulateViewportOption
		if opts.Mobile {
			vpOpts = append(vpOpts, chromedp.EmulateMobile)
		}
		actions = append(actions, chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height), vpOpts...))
	}
	if err := chromedp.Run(c.ctx, actions...); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return c, nil
}

func remoteObjectText(arg *runtime.RemoteObject) string {
	if arg == nil {
		return ""
	}
	if len(arg.Value) > 0 {
		v := string(arg.Value)
		if unq, err := strconv.Unquote(v); err == nil {
			return unq
		}
		return v
	}
	return arg.Description
}

func (c *ChromeDPSurface) appendLog(level, text string) {
	c.logMu.Lock()
	c.logs = append(c.logs, interfaces.ConsoleMessage{Level: level, Text: text, Timestamp: time.Now()})
	c.logMu.Unlock()
}

// run executes actions under the per-operation timeout, mapping a dead
// browser context onto ErrSurfaceLost
func (c *ChromeDPSurface) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSurfaceLost, err)
	}
	opCtx, cancel := context.WithTimeout(c.ctx, c.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if c.ctx.Err() != nil || errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, chromedp.ErrChannelClosed) {
		return fmt.Errorf("%w: %v", ErrSurfaceLost, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *ChromeDPSurface) mutate(ctx context.Context, loc Locator, body string, arg any) error {
	var code string
	if err := c.run(ctx, chromedp.Evaluate(mutateScript(loc, body, arg), &code)); err != nil {
		return err
	}
	return scriptResult(loc, code)
}

// Goto navigates and waits for the load event
func (c *ChromeDPSurface) Goto(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

// Reload reloads the current page
func (c *ChromeDPSurface) Reload(ctx context.Context) error {
	return c.run(ctx, chromedp.Reload())
}

// WaitForLoad waits until the document body is ready
func (c *ChromeDPSurface) WaitForLoad(ctx context.Context) error {
	return c.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (c *ChromeDPSurface) URL(ctx context.Context) (string, error) {
	var u string
	err := c.run(ctx, chromedp.Location(&u))
	return u, err
}

func (c *ChromeDPSurface) Title(ctx context.Context) (string, error) {
	var t string
	err := c.run(ctx, chromedp.Title(&t))
	return t, err
}

// Content returns the serialized DOM
func (c *ChromeDPSurface) Content(ctx context.Context) (string, error) {
	var dom string
	err := c.run(ctx, chromedp.OuterHTML("html", &dom, chromedp.ByQuery))
	return dom, err
}

// Screenshot captures the full page as PNG
func (c *ChromeDPSurface) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

func (c *ChromeDPSurface) Query(ctx context.Context, loc Locator) ([]Element, error) {
	var els []Element
	if err := c.run(ctx, chromedp.Evaluate(queryScript(loc), &els)); err != nil {
		return nil, err
	}
	return els, nil
}

// Fill clears the element and types value, then reads it back
func (c *ChromeDPSurface) Fill(ctx context.Context, loc Locator, value string) error {
	if err := c.Clear(ctx, loc); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	if err := c.run(ctx, chromedp.SendKeys(elementPath(loc), value, chromedp.ByJSPath)); err != nil {
		if IsFatal(err) {
			return err
		}
		return fmt.Errorf("%s: %w: %v", loc, ErrInputRejected, err)
	}
	got, err := InputValue(ctx, c, loc)
	if err != nil {
		return err
	}
	if got != value {
		return fmt.Errorf("%s: %w: value reads back as %q", loc, ErrInputRejected, got)
	}
	return nil
}

func (c *ChromeDPSurface) SetValue(ctx context.Context, loc Locator, value string) error {
	return c.mutate(ctx, loc, setValueBody, value)
}

func (c *ChromeDPSurface) Clear(ctx context.Context, loc Locator) error {
	return c.mutate(ctx, loc, clearBody, nil)
}

// Click uses a real mouse click on visible elements and a scripted click otherwise
func (c *ChromeDPSurface) Click(ctx context.Context, loc Locator) error {
	el, err := First(ctx, c, loc)
	if err != nil {
		return err
	}
	if !el.Visible {
		return c.mutate(ctx, loc, clickBody, nil)
	}
	return c.run(ctx, chromedp.Click(elementPath(loc), chromedp.ByJSPath))
}

func (c *ChromeDPSurface) SetChecked(ctx context.Context, loc Locator, checked bool) error {
	return c.mutate(ctx, loc, setCheckedBody, checked)
}

func (c *ChromeDPSurface) SelectOption(ctx context.Context, loc Locator, value string) error {
	return c.mutate(ctx, loc, selectOptionBody, value)
}

func (c *ChromeDPSurface) DispatchEvent(ctx context.Context, loc Locator, event string) error {
	return c.mutate(ctx, loc, dispatchBody, event)
}

func (c *ChromeDPSurface) GlobalFunctions(ctx context.Context, q FunctionQuery) ([]ScriptFunction, error) {
	var fns []ScriptFunction
	if err := c.run(ctx, chromedp.Evaluate(globalFunctionsScript(q), &fns)); err != nil {
		return nil, err
	}
	return fns, nil
}

// ConsoleMessages drains collected console entries
func (c *ChromeDPSurface) ConsoleMessages() []interfaces.ConsoleMessage {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	logs := c.logs
	c.logs = nil
	return logs
}

// Close shuts down the tab and the browser process
func (c *ChromeDPSurface) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.alloc != nil {
		c.alloc()
	}
	return nil
}
