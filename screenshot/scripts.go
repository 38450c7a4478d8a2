package screenshot

import (
	"context"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// Page-side functions. Each is a JS function expression invoked through
// callScript with JSON encoded arguments, so no value is ever spliced into
// source text.
const (
	// probeElementJS marks and reports the first element matching a query.
	// Only the first match is considered; its visibility decides the probe.
	probeElementJS = `function(q) {
	var nodes = document.querySelectorAll(q.css);
	var want = q.text ? q.text.replace(/\s+/g, ' ').trim().toLowerCase() : '';
	for (var i = 0; i < nodes.length; i++) {
		var el = nodes[i];
		if (want) {
			var got = (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim().toLowerCase();
			if (got.indexOf(want) === -1) continue;
		}
		var r = el.getBoundingClientRect();
		var st = window.getComputedStyle(el);
		var visible = r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
		if (visible && q.marker) el.setAttribute(q.marker, q.token);
		return visible;
	}
	return false;
}`

	// isVisibleJS reports whether the first element matching a selector is
	// rendered. Invalid selectors count as not visible.
	isVisibleJS = `function(sel) {
	var el;
	try { el = document.querySelector(sel); } catch (e) { return false; }
	if (!el) return false;
	var r = el.getBoundingClientRect();
	var st = window.getComputedStyle(el);
	return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
}`

	scrollByJS = `function(step) {
	window.scrollBy(0, step);
	return true;
}`

	bodyScrollHeightJS = `function() {
	return document.body ? document.body.scrollHeight : document.documentElement.scrollHeight;
}`

	// resetScrollJS forces the origin with every mechanism available.
	// Smooth scrolling is disabled for the duration so the jump is immediate.
	resetScrollJS = `function(dispatch) {
	var de = document.documentElement;
	var body = document.body;
	var prev = de.style.scrollBehavior;
	var prevBody = body ? body.style.scrollBehavior : '';
	de.style.scrollBehavior = 'auto';
	if (body) body.style.scrollBehavior = 'auto';
	window.scrollTo(0, 0);
	de.scrollTop = 0;
	if (body) body.scrollTop = 0;
	try { window.scrollTo({top: 0, left: 0, behavior: 'instant'}); } catch (e) { window.scrollTo(0, 0); }
	de.style.scrollBehavior = prev;
	if (body) body.style.scrollBehavior = prevBody;
	if (dispatch) window.dispatchEvent(new Event('scroll'));
	return true;
}`

	scrollOffsetsJS = `function() {
	return {
		window: window.pageYOffset || window.scrollY || 0,
		document: document.documentElement.scrollTop || 0,
		body: document.body ? document.body.scrollTop : 0
	};
}`

	scrollToOriginJS = `function() {
	window.scrollTo(0, 0);
	return true;
}`

	// contentExtentJS returns the raw extents used for auto sizing. Clamping
	// and rounding happen on the Go side.
	contentExtentJS = `function() {
	var body = document.body || {};
	var de = document.documentElement;
	var w = Math.max(body.scrollWidth || 0, body.offsetWidth || 0, body.clientWidth || 0,
		de.scrollWidth, de.offsetWidth, de.clientWidth, window.innerWidth);
	var h = Math.max(body.scrollHeight || 0, body.offsetHeight || 0, body.clientHeight || 0,
		de.scrollHeight, de.offsetHeight, de.clientHeight, window.innerHeight);
	var scrollable = /^(auto|scroll)$/;
	var all = document.querySelectorAll('*');
	for (var i = 0; i < all.length; i++) {
		var el = all[i];
		var st = window.getComputedStyle(el);
		if (!scrollable.test(st.overflow) && !scrollable.test(st.overflowX) && !scrollable.test(st.overflowY)) continue;
		var r = el.getBoundingClientRect();
		w = Math.max(w, r.left + window.scrollX + el.scrollWidth);
		h = Math.max(h, r.top + window.scrollY + el.scrollHeight);
	}
	return {width: w, height: h};
}`

	// hideFixedJS hides fixed and sticky elements near the top and tags them
	// so they can be found again. The original inline values are kept on the
	// element itself.
	hideFixedJS = `function(opts) {
	var count = 0;
	var all = document.querySelectorAll('*');
	for (var i = 0; i < all.length; i++) {
		var el = all[i];
		if (el.hasAttribute(opts.marker)) continue;
		var st = window.getComputedStyle(el);
		if (st.position !== 'fixed' && st.position !== 'sticky') continue;
		if (el.getBoundingClientRect().top > opts.band) continue;
		el.setAttribute(opts.marker, JSON.stringify({display: el.style.display, visibility: el.style.visibility}));
		el.style.display = 'none';
		count++;
	}
	return count;
}`

	// restoreFixedJS undoes hideFixedJS. Elements without the tag are left
	// alone, so running it twice, or with nothing hidden, is harmless.
	restoreFixedJS = `function(marker) {
	var count = 0;
	var tagged = document.querySelectorAll('[' + marker + ']');
	for (var i = 0; i < tagged.length; i++) {
		var el = tagged[i];
		var prev = {};
		try { prev = JSON.parse(el.getAttribute(marker)) || {}; } catch (e) {}
		el.style.display = prev.display || '';
		el.style.visibility = prev.visibility || '';
		el.removeAttribute(marker);
		count++;
	}
	return count;
}`

	setLocalStorageJS = `function(items) {
	for (var i = 0; i < items.length; i++) {
		localStorage.setItem(items[i].key, items[i].value);
	}
	return items.length;
}`
)

// callScript renders an invocation of fn with JSON encoded arguments.
func callScript(fn string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("error encoding script argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return "(" + fn + ")(" + strings.Join(encoded, ", ") + ")", nil
}

// evalCall evaluates fn(args...) on the page, decoding the result into res.
func evalCall(ctx context.Context, page Page, res any, fn string, args ...any) error {
	script, err := callScript(fn, args...)
	if err != nil {
		return err
	}
	return page.Evaluate(ctx, script, res)
}
