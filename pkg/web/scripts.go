/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: scripts.go
Description: In-page JavaScript shared by the browser drivers. Every script resolves a
Locator the same way (querySelectorAll, case-insensitive text filter, nth) so that the
chromedp and playwright surfaces behave identically. Arguments are embedded as JSON.
*/

package web

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result codes returned by mutation scripts
const (
	scriptOK       = "ok"
	scriptNotFound = "not_found"
	scriptRejected = "rejected"
)

const resolveFn = `function(css, text) {
  var els = Array.prototype.slice.call(document.querySelectorAll(css));
  if (text) {
    var t = text.toLowerCase();
    els = els.filter(function(e) {
      return (e.innerText || e.textContent || '').toLowerCase().indexOf(t) >= 0;
    });
  }
  return els;
}`

const describeFn = `function(e) {
  var st = window.getComputedStyle(e);
  var r = e.getBoundingClientRect();
  var visible = st.display !== 'none' && st.visibility !== 'hidden' && (r.width > 0 || r.height > 0);
  var opts = [];
  if (e.tagName === 'SELECT') {
    for (var i = 0; i < e.options.length; i++) { opts.push(e.options[i].value); }
  }
  return {
    tag: e.tagName.toLowerCase(),
    id: e.id || '',
    name: e.getAttribute('name') || '',
    type: (e.getAttribute('type') || '').toLowerCase(),
    text: (e.innerText || e.textContent || '').trim(),
    value: e.value === undefined || e.value === null ? '' : String(e.value),
    visible: visible,
    enabled: !e.disabled,
    checked: !!e.checked,
    options: opts
  };
}`

// mutateTemplate wraps a mutation body; the body sees the element as e and
// the argument as v, and returns one of the result codes
const mutateTemplate = `(function(css, text, nth, v) {
  var resolve = %s;
  var e = resolve(css, text)[nth];
  if (!e) { return 'not_found'; }
  %s
})(%s, %s, %d, %s)`

const setValueBody = `e.value = v;
  e.dispatchEvent(new Event('input', {bubbles: true}));
  return String(e.value) === String(v) ? 'ok' : 'rejected';`

const clearBody = `e.value = '';
  e.dispatchEvent(new Event('input', {bubbles: true}));
  return 'ok';`

const dispatchBody = `var ev = (v === 'focus' || v === 'blur')
    ? new FocusEvent(v, {bubbles: true})
    : new Event(v, {bubbles: true});
  e.dispatchEvent(ev);
  return 'ok';`

const setCheckedBody = `if (e.checked !== v) { e.click(); }
  if (e.checked !== v) {
    e.checked = v;
    e.dispatchEvent(new Event('change', {bubbles: true}));
  }
  return 'ok';`

const selectOptionBody = `var found = false;
  for (var i = 0; i < e.options.length; i++) {
    if (e.options[i].value === v) { found = true; }
  }
  if (!found) { return 'rejected'; }
  e.value = v;
  e.dispatchEvent(new Event('input', {bubbles: true}));
  e.dispatchEvent(new Event('change', {bubbles: true}));
  return 'ok';`

const clickBody = `e.click();
  return 'ok';`

const globalFunctionsFn = `function(q) {
  var out = [];
  var names = Object.getOwnPropertyNames(window);
  for (var i = 0; i < names.length; i++) {
    var n = names[i];
    var lower = n.toLowerCase();
    var hit = q.name_contains.some(function(s) { return lower.indexOf(s) >= 0; });
    if (!hit) { continue; }
    var f;
    try { f = window[n]; } catch (err) { continue; }
    if (typeof f !== 'function') { continue; }
    var src = '';
    try { src = Function.prototype.toString.call(f); } catch (err) {}
    out.push({name: n, source: q.excerpt_len > 0 ? src.substring(0, q.excerpt_len) : src});
    if (q.max_results > 0 && out.length >= q.max_results) { break; }
  }
  return out;
}`

func jsLiteral(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// queryScript describes every element matched by loc
func queryScript(loc Locator) string {
	return fmt.Sprintf("(%s)(%s, %s).map(%s)", resolveFn, jsLiteral(loc.CSS), jsLiteral(loc.Text), describeFn)
}

// elementPath is a JS expression evaluating to the element targeted by loc
func elementPath(loc Locator) string {
	return fmt.Sprintf("(%s)(%s, %s)[%d]", resolveFn, jsLiteral(loc.CSS), jsLiteral(loc.Text), loc.Nth)
}

func mutateScript(loc Locator, body string, arg any) string {
	return fmt.Sprintf(mutateTemplate, resolveFn, body, jsLiteral(loc.CSS), jsLiteral(loc.Text), loc.Nth, jsLiteral(arg))
}

func globalFunctionsScript(q FunctionQuery) string {
	lowered := make([]string, 0, len(q.NameContains))
	for _, s := range q.NameContains {
		lowered = append(lowered, strings.ToLower(s))
	}
	q.NameContains = lowered
	return fmt.Sprintf("(%s)(%s)", globalFunctionsFn, jsLiteral(q))
}

// scriptResult maps a mutation result code onto the sentinel errors
func scriptResult(loc Locator, code string) error {
	switch code {
	case scriptOK:
		return nil
	case scriptNotFound:
		return fmt.Errorf("%s: %w", loc, ErrNotFound)
	case scriptRejected:
		return fmt.Errorf("%s: %w", loc, ErrInputRejected)
	default:
		return fmt.Errorf("%s: unexpected script result %q", loc, code)
	}
}
