/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: matcher.go
Description: Ordered locator strategies. FirstMatch walks a strategy list and returns
the first element that satisfies it, which is how fields, save controls, error messages
and credential inputs are found on pages whose markup differs between firmware versions.
*/

package web

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Strategy is one way of locating an element
type Strategy struct {
	Name        string
	Locator     Locator
	VisibleOnly bool
	// Pattern, when set, must match the element text
	Pattern *regexp.Regexp
}

// Match is the result of a strategy walk
type Match struct {
	Found    bool
	Strategy string
	Locator  Locator
	Element  Element
}

// FirstMatch returns the first element satisfying the earliest strategy.
// Non-fatal query errors skip to the next strategy.
func FirstMatch(ctx context.Context, s Surface, strategies []Strategy) (Match, error) {
	for _, st := range strategies {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}
		els, err := s.Query(ctx, st.Locator)
		if err != nil {
			if IsFatal(err) {
				return Match{}, err
			}
			continue
		}
		for i, el := range els {
			if st.VisibleOnly && !el.Visible {
				continue
			}
			if st.Pattern != nil && !st.Pattern.MatchString(el.Text) {
				continue
			}
			return Match{
				Found:    true,
				Strategy: st.Name,
				Locator:  st.Locator.At(i),
				Element:  el,
			}, nil
		}
	}
	return Match{}, nil
}

var identSafe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// QuoteAttr quotes v for use inside a CSS attribute selector
func QuoteAttr(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// IDSelector returns #id when the id is a plain identifier, else [id="..."]
func IDSelector(id string) string {
	if identSafe.MatchString(id) {
		return "#" + id
	}
	return "[id=" + QuoteAttr(id) + "]"
}

// FieldStrategies locates a form control by name, then structural id
func FieldStrategies(fieldID string) []Strategy {
	strategies := []Strategy{
		{Name: "name", Locator: CSS(fmt.Sprintf("[name=%s]", QuoteAttr(fieldID)))},
	}
	if identSafe.MatchString(fieldID) {
		strategies = append(strategies, Strategy{Name: "id", Locator: CSS("#" + fieldID)})
	}
	strategies = append(strategies, Strategy{Name: "id_attr", Locator: CSS(fmt.Sprintf("[id=%s]", QuoteAttr(fieldID)))})
	return strategies
}

// LocatorHint builds a text locator hint from the first n characters of text
func LocatorHint(text string, n int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > n {
		text = strings.TrimSpace(string([]rune(text)[:n]))
	}
	return fmt.Sprintf("text=%q", text)
}
