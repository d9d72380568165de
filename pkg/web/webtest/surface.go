/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: surface.go
Description: In-memory web.Surface for tests. Pages are plain HTML parsed with goquery;
form state lives in the DOM attributes, and page behaviour (validation messages, dynamic
required flags, redirects) is scripted in Go through event handlers. Not safe for
concurrent use, matching the single-driver model of the engine.
*/

package webtest

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/web"
)

// Handler reacts to an event fired on an element matching its selector
type Handler func(s *Surface, target *goquery.Selection)

type binding struct {
	event string
	css   string
	fn    Handler
}

// Surface is a scripted fake page
type Surface struct {
	// Pages maps URL to HTML served by Goto and Reload
	Pages map[string]string
	// Redirect, when set, rewrites every navigation target
	Redirect func(url string) string
	// Functions is what GlobalFunctions reports, before filtering
	Functions []web.ScriptFunction
	// Lost makes every operation fail with web.ErrSurfaceLost
	Lost bool

	// Gotos records every navigation target after redirects
	Gotos []string
	// Events records "event:identifier" for every fired event
	Events []string

	url      string
	doc      *goquery.Document
	bindings []binding
	logs     []interfaces.ConsoleMessage
}

// New returns a surface serving the given pages
func New(pages map[string]string) *Surface {
	if pages == nil {
		pages = map[string]string{}
	}
	return &Surface{Pages: pages}
}

// On registers fn for event on elements matching css.
// The "load" event fires after every navigation with the html element as target.
func (s *Surface) On(event, css string, fn Handler) *Surface {
	s.bindings = append(s.bindings, binding{event: event, css: css, fn: fn})
	return s
}

// Doc exposes the live document to handlers and tests
func (s *Surface) Doc() *goquery.Document {
	return s.doc
}

// Log appends a console message as if the page had logged it
func (s *Surface) Log(level, text string) {
	s.logs = append(s.logs, interfaces.ConsoleMessage{Level: level, Text: text, Timestamp: time.Now()})
}

// Show makes every match of css visible
func (s *Surface) Show(css string) {
	s.doc.Find(css).Each(func(_ int, sel *goquery.Selection) {
		sel.RemoveAttr("hidden")
		sel.RemoveClass("hidden")
		if style, ok := sel.Attr("style"); ok {
			sel.SetAttr("style", displayNone.ReplaceAllString(style, ""))
		}
	})
}

// Hide hides every match of css
func (s *Surface) Hide(css string) {
	s.doc.Find(css).SetAttr("hidden", "")
}

// SetAttr sets an attribute on every match of css
func (s *Surface) SetAttr(css, name, value string) {
	s.doc.Find(css).SetAttr(name, value)
}

// RemoveAttr removes an attribute from every match of css
func (s *Surface) RemoveAttr(css, name string) {
	s.doc.Find(css).RemoveAttr(name)
}

// SetText replaces the text of every match of css
func (s *Surface) SetText(css, text string) {
	s.doc.Find(css).SetText(text)
}

// SetURL changes the reported URL without navigating
func (s *Surface) SetURL(url string) {
	s.url = url
}

// Value reads the current value of the first match of css
func (s *Surface) Value(css string) string {
	return valueOf(s.doc.Find(css).First())
}

func (s *Surface) check() error {
	if s.Lost {
		return web.ErrSurfaceLost
	}
	if s.doc == nil {
		return fmt.Errorf("no page loaded")
	}
	return nil
}

// Goto loads the HTML registered for url
func (s *Surface) Goto(ctx context.Context, url string) error {
	if s.Lost {
		return web.ErrSurfaceLost
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Redirect != nil {
		url = s.Redirect(url)
	}
	s.Gotos = append(s.Gotos, url)
	html, ok := s.Pages[url]
	if !ok {
		return fmt.Errorf("navigation to %s failed: no page", url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse page %s: %w", url, err)
	}
	s.url = url
	s.doc = doc
	s.fire("load", doc.Find("html").First())
	return nil
}

func (s *Surface) Reload(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Goto(ctx, s.url)
}

func (s *Surface) WaitForLoad(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Surface) URL(ctx context.Context) (string, error) {
	if s.Lost {
		return "", web.ErrSurfaceLost
	}
	return s.url, nil
}

func (s *Surface) Title(ctx context.Context) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return strings.TrimSpace(s.doc.Find("title").First().Text()), nil
}

func (s *Surface) Content(ctx context.Context) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return goquery.OuterHtml(s.doc.Find("html").First())
}

// Screenshot returns a PNG signature followed by the URL
func (s *Surface) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return append([]byte("\x89PNG\r\n\x1a\n"), s.url...), nil
}

func (s *Surface) matches(loc web.Locator) *goquery.Selection {
	sel := s.doc.Find(loc.CSS)
	if loc.Text == "" {
		return sel
	}
	want := strings.ToLower(loc.Text)
	return sel.FilterFunction(func(_ int, el *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(el.Text()), want)
	})
}

func (s *Surface) target(loc web.Locator) (*goquery.Selection, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	sel := s.matches(loc)
	if loc.Nth >= sel.Length() {
		return nil, fmt.Errorf("%s: %w", loc, web.ErrNotFound)
	}
	return sel.Eq(loc.Nth), nil
}

func (s *Surface) Query(ctx context.Context, loc web.Locator) ([]web.Element, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var els []web.Element
	s.matches(loc).Each(func(_ int, sel *goquery.Selection) {
		els = append(els, describe(sel))
	})
	return els, nil
}

// Fill behaves like typing: disabled or read-only controls refuse input,
// number inputs refuse non-numeric text and maxlength truncates
func (s *Surface) Fill(ctx context.Context, loc web.Locator, value string) error {
	sel, err := s.target(loc)
	if err != nil {
		return err
	}
	if disabled(sel) || hasAttr(sel, "readonly") {
		return fmt.Errorf("%s: %w: not editable", loc, web.ErrInputRejected)
	}
	typed := value
	if strings.EqualFold(attr(sel, "type"), "number") && value != "" {
		if _, perr := strconv.ParseFloat(value, 64); perr != nil {
			typed = ""
		}
	}
	if ml, perr := strconv.Atoi(attr(sel, "maxlength")); perr == nil && ml >= 0 && len([]rune(typed)) > ml {
		typed = string([]rune(typed)[:ml])
	}
	setValue(sel, typed)
	s.fire("input", sel)
	if typed != value {
		return fmt.Errorf("%s: %w: value reads back as %q", loc, web.ErrInputRejected, typed)
	}
	return nil
}

// SetValue assigns the value property directly, bypassing input filtering
// except for number inputs, which still sanitize non-numeric text
func (s *Surface) SetValue(ctx context.Context, loc web.Locator, value string) error {
	sel, err := s.target(loc)
	if err != nil {
		return err
	}
	stored := value
	if strings.EqualFold(attr(sel, "type"), "number") && value != "" {
		if _, perr := strconv.ParseFloat(value, 64); perr != nil {
			stored = ""
		}
	}
	setValue(sel, stored)
	s.fire("input", sel)
	if stored != value {
		return fmt.Errorf("%s: %w", loc, web.ErrInputRejected)
	}
	return nil
}

func (s *Surface) Clear(ctx context.Context, loc web.Locator) error {
	sel, err := s.target(loc)
	if err != nil {
		return err
	}
	setValue(sel, "")
	s.fire("input", sel)
	return nil
}

// Click fires click; checkboxes and radios toggle and fire change
func (s *Surface) Click(ctx context.Context, loc web.Locator) error {
	sel, err := s.target(loc)
	if err != nil {
		return err
	}
	if disabled(sel) {
		return nil
	}
	switch strings.ToLower(attr(sel, "type")) {
	case "checkbox":
		s.setChecked(sel, !hasAttr(sel, "checked"))
		s.fire("click", sel)
		s.fire("change", sel)
		return nil
	case "radio":
		if !hasAttr(sel, "checked") {
			s.setChecked(sel, true)
			s.fire("click", sel)
			s.fire("change", sel)
			return nil
		}
	}
	s.fire("click", sel)
	return nil
}

func (s *Surface) SetChecked(ctx context.Context, loc web.Locator, checked bool) error {
	sel, err := s.target(loc)
	if err != nil {
		return err
	}
	if hasAttr(sel, "checked") == checked {
		return nil
	}
	s.setChecked(sel, checked)
	s.fire("click", sel)
	s.fire("change", sel)
	return nil
}

func (s *Surface) setChecked(sel *goquery.Selection, checked bool) {
	if !checked {
		sel.RemoveAttr("checked")
		return
	}
	if strings.EqualFold(attr(sel, "type"), "radio") {
		if name := attr(sel, "name"); name != "" {
			s.doc.Find(fmt.Sprintf(`input[type="radio"][name=%s]`, web.QuoteAttr(name))).RemoveAttr("checked")
		}
	}
	sel.SetAttr("checked", "")
}

func (s *Surface) SelectOption(ctx context.Context, loc web.Locator, value string) error {
	sel, err := s.target(loc)
	if err != nil {
		return err
	}
	found := false
	sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
		if optionValue(opt) == value {
			found = true
		}
	})
	if !found {
		return fmt.Errorf("%s: %w: no option %q", loc, web.ErrInputRejected, value)
	}
	setValue(sel, value)
	s.fire("input", sel)
	s.fire("change", sel)
	return nil
}

func (s *Surface) DispatchEvent(ctx context.Context, loc web.Locator, event string) error {
	sel, err := s.target(loc)
	if err != nil {
		return err
	}
	s.fire(event, sel)
	return nil
}

// GlobalFunctions filters Functions the way the in-page introspection does
func (s *Surface) GlobalFunctions(ctx context.Context, q web.FunctionQuery) ([]web.ScriptFunction, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []web.ScriptFunction
	for _, fn := range s.Functions {
		lower := strings.ToLower(fn.Name)
		hit := false
		for _, sub := range q.NameContains {
			if strings.Contains(lower, strings.ToLower(sub)) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		if q.ExcerptLen > 0 && len(fn.Source) > q.ExcerptLen {
			fn.Source = fn.Source[:q.ExcerptLen]
		}
		out = append(out, fn)
		if q.MaxResults > 0 && len(out) >= q.MaxResults {
			break
		}
	}
	return out, nil
}

func (s *Surface) ConsoleMessages() []interfaces.ConsoleMessage {
	logs := s.logs
	s.logs = nil
	return logs
}

func (s *Surface) Close() error {
	s.doc = nil
	return nil
}

func (s *Surface) fire(event string, target *goquery.Selection) {
	if target.Length() == 0 {
		return
	}
	id := attr(target, "name")
	if id == "" {
		id = attr(target, "id")
	}
	s.Events = append(s.Events, event+":"+id)
	for _, b := range s.bindings {
		if b.event != event {
			continue
		}
		if b.css != "" && !target.Is(b.css) {
			continue
		}
		b.fn(s, target)
	}
}

var displayNone = regexp.MustCompile(`display\s*:\s*none\s*;?`)

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return v
}

func hasAttr(sel *goquery.Selection, name string) bool {
	_, ok := sel.Attr(name)
	return ok
}

func disabled(sel *goquery.Selection) bool {
	return hasAttr(sel, "disabled")
}

func hidden(sel *goquery.Selection) bool {
	if goquery.NodeName(sel) == "input" && strings.EqualFold(attr(sel, "type"), "hidden") {
		return true
	}
	for cur := sel; cur.Length() > 0; cur = cur.Parent() {
		if hasAttr(cur, "hidden") || cur.HasClass("hidden") {
			return true
		}
		if displayNone.MatchString(attr(cur, "style")) {
			return true
		}
	}
	return false
}

func optionValue(opt *goquery.Selection) string {
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(opt.Text())
}

func valueOf(sel *goquery.Selection) string {
	switch goquery.NodeName(sel) {
	case "textarea":
		return sel.Text()
	case "select":
		opts := sel.Find("option")
		chosen := opts.FilterFunction(func(_ int, o *goquery.Selection) bool { return hasAttr(o, "selected") }).First()
		if chosen.Length() == 0 {
			chosen = opts.First()
		}
		if chosen.Length() == 0 {
			return ""
		}
		return optionValue(chosen)
	default:
		return attr(sel, "value")
	}
}

func setValue(sel *goquery.Selection, v string) {
	switch goquery.NodeName(sel) {
	case "textarea":
		sel.SetText(v)
	case "select":
		sel.Find("option").Each(func(_ int, o *goquery.Selection) {
			if optionValue(o) == v {
				o.SetAttr("selected", "")
			} else {
				o.RemoveAttr("selected")
			}
		})
	default:
		sel.SetAttr("value", v)
	}
}

func describe(sel *goquery.Selection) web.Element {
	el := web.Element{
		Tag:     goquery.NodeName(sel),
		ID:      attr(sel, "id"),
		Name:    attr(sel, "name"),
		Type:    strings.ToLower(attr(sel, "type")),
		Text:    strings.TrimSpace(sel.Text()),
		Value:   valueOf(sel),
		Visible: !hidden(sel),
		Enabled: !disabled(sel),
		Checked: hasAttr(sel, "checked"),
	}
	if el.Tag == "select" {
		sel.Find("option").Each(func(_ int, o *goquery.Selection) {
			el.Options = append(el.Options, optionValue(o))
		})
	}
	return el
}
