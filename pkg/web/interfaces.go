/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: interfaces.go
Description: Core browser abstraction for Kronos Explorer. Defines the Surface interface
every automation driver implements (navigation, structural queries, mutation, console
capture), the Locator used to address elements, and the sentinel errors that separate
expected misses from fatal connection loss.
*/

package web

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
)

var (
	// ErrNotFound means a locator matched no element
	ErrNotFound = errors.New("element not found")
	// ErrInputRejected means the input layer refused the requested value
	ErrInputRejected = errors.New("input rejected by element")
	// ErrSurfaceLost means the connection to the automation driver is gone
	ErrSurfaceLost = errors.New("surface connection lost")
)

// IsFatal reports whether err is a driver-level fault that must abort a run
func IsFatal(err error) bool {
	return errors.Is(err, ErrSurfaceLost)
}

// Locator addresses elements by CSS selector, optionally narrowed to those whose
// visible text contains Text (case-insensitive). Mutations act on match Nth.
type Locator struct {
	CSS  string `json:"css"`
	Text string `json:"text,omitempty"`
	Nth  int    `json:"nth"`
}

// CSS builds a locator from a selector
func CSS(selector string) Locator {
	return Locator{CSS: selector}
}

// WithText narrows the locator to elements containing text
func (l Locator) WithText(text string) Locator {
	l.Text = text
	return l
}

// At targets the nth element of the filtered match list
func (l Locator) At(n int) Locator {
	l.Nth = n
	return l
}

func (l Locator) String() string {
	s := l.CSS
	if l.Text != "" {
		s += fmt.Sprintf(":has-text(%q)", l.Text)
	}
	if l.Nth > 0 {
		s += fmt.Sprintf(" >> nth=%d", l.Nth)
	}
	return s
}

// Element is the read-back state of one matched element
type Element struct {
	Tag     string   `json:"tag"`
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Text    string   `json:"text"`
	Value   string   `json:"value"`
	Visible bool     `json:"visible"`
	Enabled bool     `json:"enabled"`
	Checked bool     `json:"checked"`
	Options []string `json:"options,omitempty"`
}

// Identifier returns the declared name, falling back to the structural id
func (e Element) Identifier() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}

// FunctionQuery bounds the scripted-callable introspection call
type FunctionQuery struct {
	NameContains []string `json:"name_contains"`
	ExcerptLen   int      `json:"excerpt_len"`
	MaxResults   int      `json:"max_results"`
}

// ScriptFunction is plain data about one globally reachable callable
type ScriptFunction struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Surface is the live, queryable representation of one loaded page.
// Any automation driver exposing these operations is substitutable.
type Surface interface {
	Goto(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	WaitForLoad(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	// Query returns every element matching the locator, ignoring Nth
	Query(ctx context.Context, loc Locator) ([]Element, error)

	Fill(ctx context.Context, loc Locator, value string) error
	SetValue(ctx context.Context, loc Locator, value string) error
	Clear(ctx context.Context, loc Locator) error
	Click(ctx context.Context, loc Locator) error
	SetChecked(ctx context.Context, loc Locator, checked bool) error
	SelectOption(ctx context.Context, loc Locator, value string) error
	DispatchEvent(ctx context.Context, loc Locator, event string) error

	GlobalFunctions(ctx context.Context, q FunctionQuery) ([]ScriptFunction, error)

	// ConsoleMessages drains the console messages logged since the last call
	ConsoleMessages() []interfaces.ConsoleMessage
	Close() error
}

// Count returns the number of elements matching loc
func Count(ctx context.Context, s Surface, loc Locator) (int, error) {
	els, err := s.Query(ctx, loc)
	return len(els), err
}

// First returns the element at loc.Nth, or ErrNotFound
func First(ctx context.Context, s Surface, loc Locator) (Element, error) {
	els, err := s.Query(ctx, loc)
	if err != nil {
		return Element{}, err
	}
	if loc.Nth >= len(els) {
		return Element{}, fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	return els[loc.Nth], nil
}

// IsVisible reports whether any element matching loc is visible
func IsVisible(ctx context.Context, s Surface, loc Locator) (bool, error) {
	els, err := s.Query(ctx, loc)
	if err != nil {
		return false, err
	}
	for _, el := range els {
		if el.Visible {
			return true, nil
		}
	}
	return false, nil
}

// IsEnabled reports whether the targeted element is enabled
func IsEnabled(ctx context.Context, s Surface, loc Locator) (bool, error) {
	el, err := First(ctx, s, loc)
	return el.Enabled, err
}

// InputValue returns the current value of the targeted element
func InputValue(ctx context.Context, s Surface, loc Locator) (string, error) {
	el, err := First(ctx, s, loc)
	return el.Value, err
}

// TextContent returns the trimmed text of the targeted element
func TextContent(ctx context.Context, s Surface, loc Locator) (string, error) {
	el, err := First(ctx, s, loc)
	return strings.TrimSpace(el.Text), err
}

// VisibleTexts returns the non-empty trimmed text of every visible match
func VisibleTexts(ctx context.Context, s Surface, loc Locator) ([]string, error) {
	els, err := s.Query(ctx, loc)
	if err != nil {
		return nil, err
	}
	var texts []string
	for _, el := range els {
		if !el.Visible {
			continue
		}
		if t := strings.TrimSpace(el.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return texts, nil
}
