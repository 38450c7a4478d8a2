package screenshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
)

// scriptNames labels the page-side functions in recorded calls.
var scriptNames = map[string]string{
	probeElementJS:     "probe",
	isVisibleJS:        "visible",
	scrollByJS:         "scrollBy",
	bodyScrollHeightJS: "height",
	resetScrollJS:      "reset",
	scrollOffsetsJS:    "offsets",
	scrollToOriginJS:   "origin",
	contentExtentJS:    "extent",
	hideFixedJS:        "hideFixed",
	restoreFixedJS:     "restoreFixed",
	setLocalStorageJS:  "localStorage",
}

type evalHandler func(args []json.RawMessage) (any, error)

// fakePage simulates a page: a vertical scroll position, a fixed height,
// and overridable handlers per page-side function.
type fakePage struct {
	mu sync.Mutex

	handlers map[string]evalHandler
	calls    []string

	scrollY  float64
	height   int64
	viewport Size
	clicks   []string
	navs     []string

	navErr     error
	clickErr   error
	idleErr    error
	captureErr error
	image      []byte
	closed     bool
}

func newFakePage() *fakePage {
	p := &fakePage{height: 1000, image: []byte("\x89PNG fake")}
	p.handlers = map[string]evalHandler{
		"probe":   func([]json.RawMessage) (any, error) { return false, nil },
		"visible": func([]json.RawMessage) (any, error) { return false, nil },
		"scrollBy": func(args []json.RawMessage) (any, error) {
			var step float64
			if err := json.Unmarshal(args[0], &step); err != nil {
				return nil, err
			}
			p.scrollY += step
			return true, nil
		},
		"height": func([]json.RawMessage) (any, error) { return p.height, nil },
		"reset": func([]json.RawMessage) (any, error) {
			p.scrollY = 0
			return true, nil
		},
		"offsets": func([]json.RawMessage) (any, error) {
			return ScrollOffsets{Window: p.scrollY, Document: p.scrollY}, nil
		},
		"origin": func([]json.RawMessage) (any, error) {
			p.scrollY = 0
			return true, nil
		},
		"extent":       func([]json.RawMessage) (any, error) { return contentExtent{Width: 1280, Height: 2400}, nil },
		"hideFixed":    func([]json.RawMessage) (any, error) { return 0, nil },
		"restoreFixed": func([]json.RawMessage) (any, error) { return 0, nil },
	}
	return p
}

func (p *fakePage) on(name string, h evalHandler) *fakePage {
	p.handlers[name] = h
	return p
}

// callsOf returns the recorded calls named name.
func (p *fakePage) callsOf(name string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if c == name || strings.HasPrefix(c, name+" ") {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navs = append(p.navs, url)
	p.calls = append(p.calls, "navigate")
	return p.navErr
}

func (p *fakePage) Evaluate(ctx context.Context, script string, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for fn, name := range scriptNames {
		prefix := "(" + fn + ")("
		if !strings.HasPrefix(script, prefix) {
			continue
		}
		var args []json.RawMessage
		if err := json.Unmarshal([]byte("["+strings.TrimSuffix(script[len(prefix):], ")")+"]"), &args); err != nil {
			return fmt.Errorf("fake: bad arguments for %s: %w", name, err)
		}
		p.calls = append(p.calls, strings.TrimSpace(name+" "+joinRaw(args)))

		h, ok := p.handlers[name]
		if !ok {
			return fmt.Errorf("fake: no handler for %s", name)
		}
		v, err := h(args)
		if err != nil || res == nil {
			return err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, res)
	}
	return errors.New("fake: unknown script")
}

func joinRaw(args []json.RawMessage) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = string(a)
	}
	return strings.Join(parts, " ")
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	p.calls = append(p.calls, "click")
	return p.clickErr
}

func (p *fakePage) SendKeys(ctx context.Context, selector, text string) error {
	return nil
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	return nil
}

func (p *fakePage) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "idle")
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.idleErr
}

func (p *fakePage) SetViewport(ctx context.Context, width, height int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = Size{Width: width, Height: height}
	p.calls = append(p.calls, "viewport")
	return nil
}

func (p *fakePage) CaptureFullPage(ctx context.Context, quality int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "capture")
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	return p.image, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// noSleep records requested pauses without waiting.
type noSleep struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (s *noSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	s.mu.Unlock()
	return ctx.Err()
}
