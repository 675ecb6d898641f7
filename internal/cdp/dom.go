package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Rect is an element's bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Element struct {
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
	Rect    Rect   `json:"rect"`
}

// domPrelude defines helpers shared by every DOM expression. match(selector,
// text) lists elements for a CSS selector, optionally narrowed to those whose
// text contains text case-insensitively.
const domPrelude = `
	const visible = (el) => {
		const style = window.getComputedStyle(el);
		if (!style || style.display === "none" || style.visibility === "hidden") return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 1 && rect.height > 1;
	};
	const match = (selector, text) => {
		const needle = String(text || "").toLowerCase();
		return Array.from(document.querySelectorAll(selector)).filter((el) =>
			!needle || String(el.innerText || el.textContent || "").toLowerCase().includes(needle));
	};
`

func script(body string, args ...any) string {
	return "(() => {" + domPrelude + fmt.Sprintf(body, args...) + "})()"
}

func (c *Client) InnerText(ctx context.Context, selector string) (string, error) {
	return c.EvaluateString(ctx, script(`
	const el = document.querySelector(%q);
	return el ? String(el.innerText || "") : "";`, selector))
}

// Count reports how many elements match, visible or not.
func (c *Client) Count(ctx context.Context, selector, text string) (int, error) {
	var count int
	if err := c.EvaluateInto(ctx, script(`return match(%q, %q).length;`, selector, text), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Client) IsVisible(ctx context.Context, selector, text string) (bool, error) {
	value, err := c.EvaluateAny(ctx, script(`return match(%q, %q).some(visible);`, selector, text))
	if err != nil {
		return false, err
	}
	visibleNow, _ := value.(bool)
	return visibleNow, nil
}

// WaitForSelector waits until a visible element matches.
func (c *Client) WaitForSelector(ctx context.Context, selector, text string, timeout time.Duration) error {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return errors.New("selector is required")
	}
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	return c.poll(ctx, timeout, script(`return match(%q, %q).some(visible);`, selector, text), fmt.Sprintf("selector %q", selector))
}

// ClickSelector clicks the first visible match, waiting up to timeout for
// one to appear.
func (c *Client) ClickSelector(ctx context.Context, selector, text string, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.WaitForSelector(ctx, selector, text, timeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
	}
	return c.clickResult(ctx, selector, script(`
	const el = match(%q, %q).find(visible);
	if (!el) return "not_found";
	el.scrollIntoView({block: "center", inline: "center"});
	if (typeof el.focus === "function") el.focus();
	el.click();
	return "ok";`, selector, text))
}

// ClickNth clicks the n-th match in document order, counting hidden ones.
func (c *Client) ClickNth(ctx context.Context, selector, text string, n int) error {
	return c.clickResult(ctx, selector, script(`
	const el = match(%q, %q)[%d];
	if (!el) return "not_found";
	el.scrollIntoView({block: "center", inline: "center"});
	el.click();
	return "ok";`, selector, text, n))
}

func (c *Client) clickResult(ctx context.Context, selector, expression string) error {
	result, err := c.EvaluateString(ctx, expression)
	if err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return nil
}

// TypeIntoSelector clears the first visible match and types text through
// the input pipeline, so framework listeners see real input events.
func (c *Client) TypeIntoSelector(ctx context.Context, selector, text string) error {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return errors.New("selector is required")
	}

	result, err := c.EvaluateString(ctx, script(`
	const el = match(%q, "").find(visible);
	if (!el) return "not_found";
	el.scrollIntoView({block: "center", inline: "center"});
	el.focus();
	if ("value" in el) {
		el.value = "";
		el.dispatchEvent(new Event("input", {bubbles: true}));
	}
	return "ok";`, selector))
	if err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	if err := c.Call(ctx, "Input.insertText", map[string]any{"text": text}, nil); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	_, err = c.EvaluateAny(ctx, `(() => {
	const el = document.activeElement;
	if (el) {
		el.dispatchEvent(new Event("change", {bubbles: true}));
		el.blur();
	}
	return true;
	})()`)
	return err
}

// FillSelector sets the value of the first visible match. Select elements
// take the option whose value or label equals value (case-insensitive);
// anything else is typed into.
func (c *Client) FillSelector(ctx context.Context, selector, value string) error {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return errors.New("selector is required")
	}

	result, err := c.EvaluateString(ctx, script(`
	const el = match(%q, "").find(visible);
	if (!el) return "not_found";
	if (el.tagName !== "SELECT") return "type";
	const wanted = %q.toLowerCase();
	const option = Array.from(el.options).find((o) =>
		String(o.value).toLowerCase() === wanted || String(o.label || o.text).trim().toLowerCase() === wanted);
	if (!option) return "no_option";
	el.value = option.value;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return "ok";`, selector, value))
	if err != nil {
		return err
	}
	switch result {
	case "ok":
		return nil
	case "type":
		return c.TypeIntoSelector(ctx, selector, value)
	case "no_option":
		return fmt.Errorf("select %s has no matching option", selector)
	default:
		return fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
}

// Elements lists every match with its text, visibility and geometry.
func (c *Client) Elements(ctx context.Context, selector string) ([]Element, error) {
	var elements []Element
	err := c.EvaluateInto(ctx, script(`
	return match(%q, "").map((el) => {
		const r = el.getBoundingClientRect();
		return {
			text: String(el.innerText || el.textContent || ""),
			visible: visible(el),
			rect: {x: r.x, y: r.y, width: r.width, height: r.height},
		};
	});`, selector), &elements)
	if err != nil {
		return nil, err
	}
	return elements, nil
}

// TextBox locates the smallest visible element whose text contains text
// and returns its bounding box.
func (c *Client) TextBox(ctx context.Context, text string) (Rect, bool, error) {
	var found struct {
		OK   bool `json:"ok"`
		Rect Rect `json:"rect"`
	}
	err := c.EvaluateInto(ctx, script(`
	const needle = %q.toLowerCase();
	if (!needle) return {ok: false};
	let best = null;
	let bestArea = Infinity;
	for (const el of document.body.querySelectorAll("*")) {
		const own = String(el.innerText || "").toLowerCase();
		if (!own.includes(needle) || !visible(el)) continue;
		const r = el.getBoundingClientRect();
		const area = r.width * r.height;
		if (area < bestArea) {
			bestArea = area;
			best = r;
		}
	}
	if (!best) return {ok: false};
	return {ok: true, rect: {x: best.x, y: best.y, width: best.width, height: best.height}};`, text), &found)
	if err != nil {
		return Rect{}, false, err
	}
	return found.Rect, found.OK, nil
}
