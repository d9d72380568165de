/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: forms.go
Description: Form and table capture. Parses a serialized page into plain records of
every form control and every data table, stored next to the page's snapshots as
forms.json and tables.json. Dashboard tables also yield the device's identity.
*/

package snapshot

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// OptionCapture is one option of a select control
type OptionCapture struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
}

// ControlCapture is one form control as found in the markup
type ControlCapture struct {
	Tag         string          `json:"tag"`
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name,omitempty"`
	ID          string          `json:"id,omitempty"`
	Value       string          `json:"value,omitempty"`
	Placeholder string          `json:"placeholder,omitempty"`
	Class       string          `json:"class,omitempty"`
	Disabled    bool            `json:"disabled"`
	ReadOnly    bool            `json:"readonly"`
	Required    bool            `json:"required"`
	Options     []OptionCapture `json:"options,omitempty"`
}

// FormCapture is one form element with its controls
type FormCapture struct {
	Index    int              `json:"index"`
	Action   string           `json:"action,omitempty"`
	Method   string           `json:"method,omitempty"`
	Controls []ControlCapture `json:"fields"`
}

// FormsDocument is the content of forms.json
type FormsDocument struct {
	Timestamp time.Time     `json:"timestamp"`
	Forms     []FormCapture `json:"forms"`
}

// TableCapture is one table's header and body text
type TableCapture struct {
	Index   int        `json:"index"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// DeviceInfo is the identity read from the dashboard tables
type DeviceInfo struct {
	Model    string `json:"hardware_model,omitempty"`
	Firmware string `json:"firmware_version,omitempty"`
	Serial   string `json:"serial_number,omitempty"`
	Location string `json:"location,omitempty"`
}

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

// CaptureForms lists every form and its controls
func CaptureForms(html string, now time.Time) (*FormsDocument, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}
	out := &FormsDocument{Timestamp: now, Forms: []FormCapture{}}
	doc.Find("form").Each(func(i int, form *goquery.Selection) {
		fc := FormCapture{Index: i, Action: form.AttrOr("action", ""), Method: form.AttrOr("method", "")}
		form.Find("input, select, textarea, button").Each(func(_ int, el *goquery.Selection) {
			fc.Controls = append(fc.Controls, captureControl(el))
		})
		out.Forms = append(out.Forms, fc)
	})
	return out, nil
}

func captureControl(el *goquery.Selection) ControlCapture {
	has := func(name string) bool {
		_, ok := el.Attr(name)
		return ok
	}
	c := ControlCapture{
		Tag:         strings.ToUpper(goquery.NodeName(el)),
		Type:        el.AttrOr("type", ""),
		Name:        el.AttrOr("name", ""),
		ID:          el.AttrOr("id", ""),
		Value:       el.AttrOr("value", ""),
		Placeholder: el.AttrOr("placeholder", ""),
		Class:       el.AttrOr("class", ""),
		Disabled:    has("disabled"),
		ReadOnly:    has("readonly"),
		Required:    has("required"),
	}
	if c.Tag == "SELECT" {
		el.Find("option").Each(func(_ int, opt *goquery.Selection) {
			_, selected := opt.Attr("selected")
			text := strings.TrimSpace(opt.Text())
			c.Options = append(c.Options, OptionCapture{Value: opt.AttrOr("value", text), Text: text, Selected: selected})
		})
	}
	return c
}

// CaptureTables lists every table's header cells and non-empty body rows
func CaptureTables(html string) ([]TableCapture, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}
	tables := []TableCapture{}
	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		tc := TableCapture{Index: i, Headers: []string{}, Rows: [][]string{}}
		table.Find("thead th, thead td").Each(func(_ int, cell *goquery.Selection) {
			tc.Headers = append(tc.Headers, strings.TrimSpace(cell.Text()))
		})
		table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
			var cells []string
			row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if len(cells) > 0 {
				tc.Rows = append(tc.Rows, cells)
			}
		})
		tables = append(tables, tc)
	})
	return tables, nil
}

// ExtractDeviceInfo reads model, firmware, serial and location from
// key/value rows of a device information table
func ExtractDeviceInfo(tables []TableCapture) DeviceInfo {
	var info DeviceInfo
	for _, t := range tables {
		header := strings.ToLower(strings.Join(t.Headers, " "))
		if !strings.Contains(header, "device information") && len(t.Rows) < 10 {
			continue
		}
		for _, row := range t.Rows {
			if len(row) < 2 {
				continue
			}
			key, value := strings.ToLower(row[0]), strings.TrimSpace(row[1])
			switch {
			case strings.Contains(key, "firmware"), strings.Contains(key, "version"):
				info.Firmware = value
			case strings.Contains(key, "model"):
				info.Model = value
			case strings.Contains(key, "serial"):
				info.Serial = value
			case strings.Contains(key, "location"):
				info.Location = value
			}
		}
	}
	return info
}

// WritePageCaptures stores forms.json and, when tables exist, tables.json
// for a page state. It returns both so callers can reuse them.
func (s *Session) WritePageCaptures(state, html string) (*FormsDocument, []TableCapture, error) {
	forms, err := CaptureForms(html, s.store.now())
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.WriteArtifact(state, "forms", forms); err != nil {
		return nil, nil, err
	}
	tables, err := CaptureTables(html)
	if err != nil {
		return forms, nil, err
	}
	if len(tables) > 0 {
		if _, err := s.WriteArtifact(state, "tables", tables); err != nil {
			return forms, nil, err
		}
	}
	return forms, tables, nil
}
