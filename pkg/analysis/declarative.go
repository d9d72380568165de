/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: declarative.go
Description: Declarative constraint extraction. Parses the serialized DOM with goquery,
reads the standard constraint attributes of every form control into an attribute map,
derives FieldConstraint entries from it, and diffs attribute maps between two reads.
*/

package analysis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
)

// Attribute keys of a FieldAttributes map
const (
	attrTag         = "tag"
	attrType        = "type"
	attrRequired    = "required"
	attrPattern     = "pattern"
	attrMinLength   = "minlength"
	attrMaxLength   = "maxlength"
	attrMin         = "min"
	attrMax         = "max"
	attrStep        = "step"
	attrTitle       = "title"
	attrPlaceholder = "placeholder"
	attrDisabled    = "disabled"
	attrReadonly    = "readonly"
)

// maxLengthUnset mirrors the browser's default maxLength sentinel
const maxLengthUnset = 524288

const formControls = "input, select, textarea"

// skippedInputTypes are controls that carry no user-entered value
var skippedInputTypes = map[string]bool{
	"hidden": true,
	"submit": true,
	"button": true,
	"reset":  true,
	"image":  true,
}

// FieldSet is the full attribute map of a page plus document order
type FieldSet struct {
	Order  []string
	Fields map[string]interfaces.FieldAttributes
	// options holds select option values keyed by field
	options map[string][]string
}

func boolAttr(sel *goquery.Selection, name string) string {
	_, ok := sel.Attr(name)
	return strconv.FormatBool(ok)
}

// ReadFieldSet parses the structural capture and reads every named control
func ReadFieldSet(html string) (*FieldSet, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page structure: %w", err)
	}
	fs := &FieldSet{
		Fields:  make(map[string]interfaces.FieldAttributes),
		options: make(map[string][]string),
	}
	doc.Find(formControls).Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)
		typ := strings.ToLower(sel.AttrOr("type", ""))
		if tag == "input" && typ == "" {
			typ = "text"
		}
		if tag == "select" || tag == "textarea" {
			typ = tag
		}
		if skippedInputTypes[typ] {
			return
		}
		id := sel.AttrOr("name", "")
		if id == "" {
			id = sel.AttrOr("id", "")
		}
		if id == "" {
			return
		}
		if _, seen := fs.Fields[id]; seen {
			// radio groups share a name; the first member describes the group
			return
		}

		attrs := interfaces.FieldAttributes{
			attrTag:         tag,
			attrType:        typ,
			attrRequired:    boolAttr(sel, "required"),
			attrPattern:     sel.AttrOr("pattern", ""),
			attrMin:         sel.AttrOr("min", ""),
			attrMax:         sel.AttrOr("max", ""),
			attrStep:        sel.AttrOr("step", ""),
			attrTitle:       sel.AttrOr("title", ""),
			attrPlaceholder: sel.AttrOr("placeholder", ""),
			attrDisabled:    boolAttr(sel, "disabled"),
			attrReadonly:    boolAttr(sel, "readonly"),
			attrMinLength:   "",
			attrMaxLength:   "",
		}
		if n, err := strconv.Atoi(sel.AttrOr("minlength", "")); err == nil && n > 0 {
			attrs[attrMinLength] = strconv.Itoa(n)
		}
		if n, err := strconv.Atoi(sel.AttrOr("maxlength", "")); err == nil && n >= 0 && n < maxLengthUnset {
			attrs[attrMaxLength] = strconv.Itoa(n)
		}
		fs.Order = append(fs.Order, id)
		fs.Fields[id] = attrs

		if tag == "select" {
			var opts []string
			sel.Find("option").Each(func(_ int, o *goquery.Selection) {
				v, ok := o.Attr("value")
				if !ok {
					v = strings.TrimSpace(o.Text())
				}
				opts = append(opts, v)
			})
			fs.options[id] = opts
		}
	})
	return fs, nil
}

func parseFloat(s string) (*float64, bool) {
	if s == "" {
		return nil, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// Constraints derives the declared constraints in document order.
// Fields without any constraint attribute produce no entries.
func (fs *FieldSet) Constraints() []interfaces.FieldConstraint {
	var out []interfaces.FieldConstraint
	for _, id := range fs.Order {
		a := fs.Fields[id]
		base := interfaces.FieldConstraint{
			FieldID:       id,
			InputType:     a[attrType],
			DeclaredTitle: a[attrTitle],
		}
		add := func(kind interfaces.ConstraintKind, bound string) interfaces.FieldConstraint {
			c := base
			c.Kind = kind
			c.BoundValue = bound
			return c
		}

		if a[attrRequired] == "true" {
			out = append(out, add(interfaces.KindRequired, "true"))
		}
		if a[attrMaxLength] != "" {
			out = append(out, add(interfaces.KindMaxLength, a[attrMaxLength]))
		}
		if a[attrMinLength] != "" {
			out = append(out, add(interfaces.KindMinLength, a[attrMinLength]))
		}
		if a[attrPattern] != "" {
			out = append(out, add(interfaces.KindPattern, a[attrPattern]))
		}
		minV, hasMin := parseFloat(a[attrMin])
		maxV, hasMax := parseFloat(a[attrMax])
		if hasMin || hasMax {
			c := add(interfaces.KindNumericRange, a[attrMin]+".."+a[attrMax])
			c.Min, c.Max = minV, maxV
			out = append(out, c)
		}
		if opts := fs.options[id]; len(opts) > 0 {
			c := add(interfaces.KindEnumerated, strings.Join(opts, ","))
			c.Options = append([]string(nil), opts...)
			out = append(out, c)
		}
	}
	return out
}

// Constrained returns the attribute maps of fields that own at least one constraint
func (fs *FieldSet) Constrained(constraints []interfaces.FieldConstraint) map[string]interfaces.FieldAttributes {
	out := make(map[string]interfaces.FieldAttributes)
	for _, c := range constraints {
		out[c.FieldID] = fs.Fields[c.FieldID]
	}
	return out
}

// DiffFieldSets reports attribute changes between two reads, keyed by field id
func DiffFieldSets(before, after *FieldSet) map[string]map[string]interfaces.AttributeChange {
	ids := make(map[string]bool)
	for id := range before.Fields {
		ids[id] = true
	}
	for id := range after.Fields {
		ids[id] = true
	}

	out := make(map[string]map[string]interfaces.AttributeChange)
	for id := range ids {
		old, cur := before.Fields[id], after.Fields[id]
		keys := make(map[string]bool)
		for k := range old {
			keys[k] = true
		}
		for k := range cur {
			keys[k] = true
		}
		for k := range keys {
			if old[k] == cur[k] {
				continue
			}
			if out[id] == nil {
				out[id] = make(map[string]interfaces.AttributeChange)
			}
			out[id][k] = interfaces.AttributeChange{From: old[k], To: cur[k]}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
