package cdp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

// refAttr marks probed elements so later actions can address them.
const refAttr = "data-agent-ref"

// probeScript finds the first element matching a locator, tags it with
// refAttr and reports its geometry. Text matches prefer the innermost
// element. Always returns an object; found=false when nothing matches.
const probeScript = `(function(loc) {
	function byText() {
		const want = loc.text.trim().toLowerCase();
		const nodes = document.querySelectorAll(loc.tag || '*');
		let best = null, bestLen = Infinity;
		for (const el of nodes) {
			if (el.tagName === 'SCRIPT' || el.tagName === 'STYLE') continue;
			const text = (el.innerText || el.textContent || el.getAttribute('aria-label') || '').trim();
			if (!text) continue;
			const t = text.toLowerCase();
			const ok = loc.exact ? t === want : t.includes(want);
			if (ok && text.length < bestLen) { best = el; bestLen = text.length; }
		}
		return best;
	}
	let el = null;
	if (loc.css) {
		el = document.querySelector(loc.css);
	} else if (loc.path) {
		el = document.evaluate(loc.path, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	} else if (loc.text) {
		el = byText();
	}
	if (!el || el.nodeType !== 1) return {found: false};

	let ref = el.getAttribute('%[1]s');
	if (!ref) {
		window.__agentRefSeq = (window.__agentRefSeq || 0) + 1;
		ref = 'r' + window.__agentRefSeq;
		el.setAttribute('%[1]s', ref);
	}
	const r = el.getBoundingClientRect();
	const st = window.getComputedStyle(el);
	const hidden = st.display === 'none' || st.visibility === 'hidden' ||
		el.getAttribute('aria-hidden') === 'true' || parseFloat(st.opacity) === 0;
	const attrs = {};
	for (const name of ['id', 'name', 'type', 'role', 'aria-label', 'placeholder', 'accept', 'href', 'aria-checked']) {
		const v = el.getAttribute(name);
		if (v !== null) attrs[name] = v;
	}
	return {
		found: true,
		ref: ref,
		tag: el.tagName.toLowerCase(),
		text: (el.innerText || el.value || '').trim().slice(0, 200),
		x: r.left, y: r.top, width: r.width, height: r.height,
		hidden: hidden,
		enabled: !el.disabled && el.getAttribute('aria-disabled') !== 'true',
		attrs: attrs
	};
})(%[2]s)`

// clearScript empties an input, textarea or contenteditable element and
// fires input and change so frameworks see the edit.
const clearScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return false;
	if (el.disabled || el.readOnly) return false;
	el.focus();
	if ('value' in el && el.tagName !== 'DIV') {
		el.value = '';
	} else if (el.isContentEditable) {
		document.execCommand('selectAll', false, null);
		document.execCommand('delete', false, null);
	} else {
		return false;
	}
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})(%s)`

// focusScript focuses el and moves the caret to its end.
const focusScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.focus();
	if (el.isContentEditable) {
		const range = document.createRange();
		range.selectNodeContents(el);
		range.collapse(false);
		const s = window.getSelection();
		s.removeAllRanges();
		s.addRange(range);
	}
	return true;
})(%s)`

// dropScript delivers a file to a drop zone that has no file input.
const dropScript = `(function(sel, name, mime, b64) {
	const el = document.querySelector(sel);
	if (!el) return false;
	const bin = atob(b64);
	const buf = new Uint8Array(bin.length);
	for (let i = 0; i < bin.length; i++) buf[i] = bin.charCodeAt(i);
	const dt = new DataTransfer();
	dt.items.add(new File([buf], name, {type: mime}));
	for (const type of ['dragenter', 'dragover', 'drop']) {
		el.dispatchEvent(new DragEvent(type, {bubbles: true, cancelable: true, dataTransfer: dt}));
	}
	return true;
})(%s, %s, %s, %s)`

type probeLocator struct {
	CSS   string `json:"css,omitempty"`
	Path  string `json:"path,omitempty"`
	Text  string `json:"text,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Exact bool   `json:"exact,omitempty"`
}

type probeResult struct {
	Found   bool              `json:"found"`
	Ref     string            `json:"ref"`
	Tag     string            `json:"tag"`
	Text    string            `json:"text"`
	X       float64           `json:"x"`
	Y       float64           `json:"y"`
	Width   float64           `json:"width"`
	Height  float64           `json:"height"`
	Hidden  bool              `json:"hidden"`
	Enabled bool              `json:"enabled"`
	Attrs   map[string]string `json:"attrs"`
}

func (r probeResult) element() *core.ElementInfo {
	if !r.Found {
		return nil
	}
	return &core.ElementInfo{
		Ref:        r.Ref,
		Tag:        r.Tag,
		Text:       r.Text,
		Bounds:     core.Bounds{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height},
		Hidden:     r.Hidden,
		Enabled:    r.Enabled,
		Attributes: r.Attrs,
	}
}

// jsString encodes v as a JavaScript literal.
func jsString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func buildProbe(loc flow.Locator) string {
	// only the strategy Kind selects is sent
	var pl probeLocator
	switch loc.Kind() {
	case flow.LocatorAttribute:
		pl.CSS = loc.CSS
	case flow.LocatorPath:
		pl.Path = loc.Path
	case flow.LocatorText:
		pl.Text, pl.Tag, pl.Exact = loc.Text, loc.Tag, loc.Exact
	}
	return fmt.Sprintf(probeScript, refAttr, jsString(pl))
}

// refSelector addresses an element tagged by a probe.
func refSelector(ref string) string {
	return fmt.Sprintf("[%s=%q]", refAttr, strings.ReplaceAll(ref, `"`, ""))
}
