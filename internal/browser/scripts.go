package browser

import (
	"encoding/json"
	"strings"
)

// MarkAttr is the attribute MarkByText tags elements with
const MarkAttr = "data-pp-mark"

// snapshotFn returns dom.Element-shaped objects for every match of query
const snapshotFn = `(query) => {
	const vw = window.innerWidth || document.documentElement.clientWidth;
	const vh = window.innerHeight || document.documentElement.clientHeight;
	const order = new Map();
	document.querySelectorAll('*').forEach((el, i) => order.set(el, i));
	return Array.from(document.querySelectorAll(query)).map((el, i) => {
		const r = el.getBoundingClientRect();
		const cs = window.getComputedStyle(el);
		const tag = el.tagName.toLowerCase();
		const type = (el.getAttribute('type') || '');
		return {
			index: i,
			pos: order.has(el) ? order.get(el) : -1,
			tag: tag,
			type: type,
			name: el.getAttribute('name') || '',
			id: el.id || '',
			placeholder: el.getAttribute('placeholder') || '',
			ariaLabel: el.getAttribute('aria-label') || '',
			role: el.getAttribute('role') || '',
			testId: el.getAttribute('data-testid') || '',
			autocomplete: el.getAttribute('autocomplete') || '',
			value: (tag === 'input' || tag === 'textarea') ? String(el.value || '').slice(0, 200) : '',
			text: (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim().slice(0, 200),
			contentEditable: el.isContentEditable === true,
			rect: { x: r.x, y: r.y, width: r.width, height: r.height },
			displayNone: cs.display === 'none',
			visibilityHidden: cs.visibility === 'hidden',
			transparent: parseFloat(cs.opacity) === 0,
			disabled: el.disabled === true,
			ariaDisabled: el.getAttribute('aria-disabled') === 'true',
			ariaHidden: el.closest('[aria-hidden="true"]') !== null,
			hiddenAttr: el.closest('[hidden]') !== null,
			outOfViewport: r.right <= 0 || r.bottom <= 0 || r.left >= vw || r.top >= vh,
		};
	});
}`

// markByTextFn tags the smallest visible match whose text contains a needle
const markByTextFn = `(query, needles, marker) => {
	const lower = needles.map(n => n.toLowerCase());
	let best = null, bestArea = Infinity;
	for (const el of document.querySelectorAll(query)) {
		const text = ((el.innerText || el.textContent || '') + ' ' + (el.getAttribute('aria-label') || '') + ' ' + (el.getAttribute('placeholder') || '')).toLowerCase();
		if (!lower.some(n => text.includes(n))) continue;
		const r = el.getBoundingClientRect();
		const cs = window.getComputedStyle(el);
		if (r.width <= 2 || r.height <= 2 || cs.display === 'none' || cs.visibility === 'hidden' || parseFloat(cs.opacity) === 0) continue;
		const area = r.width * r.height;
		if (area < bestArea) { best = el; bestArea = area; }
	}
	if (!best) return '';
	best.setAttribute('` + MarkAttr + `', marker);
	return '[` + MarkAttr + `="' + marker + '"]';
}`

// scriptClickFn clicks through the DOM API, bypassing hit testing
const scriptClickFn = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.click();
	return true;
}`

// invoke renders fn applied to args as a standalone expression
func invoke(fn string, args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		b, _ := json.Marshal(a)
		parts[i] = string(b)
	}
	return "(" + fn + ")(" + strings.Join(parts, ", ") + ")"
}
