// Package textgen asks a text-generation backend for short summaries and
// for the event types and distances a description states explicitly.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"ptrun/internal/cache"
	appLog "ptrun/internal/log"
	"ptrun/internal/model"
)

const defaultTimeout = 30 * time.Second

// Completer is a text-generation backend.
type Completer interface {
	Complete(ctx context.Context, system, user, model string) (string, error)
}

// ErrTimeout is wrapped in a GenerationError when a call exceeds its
// per-call timeout.
var ErrTimeout = errors.New("generation timed out")

// GenerationError reports a failed backend call. Failed calls are never
// cached.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("textgen %s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Observer is notified once per generation request.
type Observer func(op string, fromCache bool, err error)

// Generator wraps a Completer with the cache and output parsing.
type Generator struct {
	completer Completer
	cache     *cache.Cache
	model     string
	timeout   time.Duration
	observe   Observer
}

type Option func(*Generator)

func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(g *Generator) { g.observe = o }
}

func NewGenerator(c Completer, ch *cache.Cache, model string, opts ...Option) *Generator {
	g := &Generator{
		completer: c,
		cache:     ch,
		model:     model,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Model() string { return g.model }

// Summarize returns a one-line summary of description, verbatim as the
// backend produced it.
func (g *Generator) Summarize(ctx context.Context, description string) (string, error) {
	return g.complete(ctx, "summarize", cache.NSDescriptions, summarizePrompt, description)
}

// InferTypesAndDistances returns the types and distances text states.
// An answer without either line is a valid empty result.
func (g *Generator) InferTypesAndDistances(ctx context.Context, text string) (model.ClassifiedTypes, error) {
	out, err := g.complete(ctx, "infer", cache.NSInference, inferPrompt, text)
	if err != nil {
		return model.ClassifiedTypes{}, err
	}
	return ParseInference(out), nil
}

func (g *Generator) complete(ctx context.Context, op, namespace, system, user string) (string, error) {
	key := cache.Key(namespace, system, user, g.model)
	if body, ok := g.cache.Get(ctx, key, 0); ok {
		g.notify(op, true, nil)
		return strings.TrimSpace(string(body)), nil
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	out, err := g.completer.Complete(cctx, system, user, g.model)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrTimeout, g.timeout, err)
		}
		gerr := &GenerationError{Op: op, Err: err}
		g.notify(op, false, gerr)
		return "", gerr
	}
	g.notify(op, false, nil)

	out = strings.TrimSpace(out)
	appLog.Debug("generation done", "op", op, "model", g.model, "elapsed", time.Since(start).Round(time.Millisecond).String())

	if err := g.cache.Put(ctx, key, []byte(out)); err != nil {
		appLog.Error("generation cache write failed", err, "op", op)
	}
	return out, nil
}

func (g *Generator) notify(op string, fromCache bool, err error) {
	if g.observe != nil {
		g.observe(op, fromCache, err)
	}
}

// ParseInference reads the two-line "event_types: ... / distances: ..."
// answer. Tokens outside the type enumeration and distances outside the
// accepted range are dropped.
func ParseInference(out string) model.ClassifiedTypes {
	var res model.ClassifiedTypes
	seenType := map[model.EventType]bool{}
	seenDist := map[int]bool{}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := cutLabel(line, "event_types:"); ok {
			for _, tok := range splitList(v) {
				et, ok := model.ParseEventType(tok)
				if !ok {
					appLog.Warn("generated invalid event type", "value", tok)
					continue
				}
				if !seenType[et] {
					seenType[et] = true
					res.Types = append(res.Types, et)
				}
			}
			continue
		}
		if v, ok := cutLabel(line, "distances:"); ok {
			for _, tok := range splitList(v) {
				d, err := strconv.Atoi(tok)
				if err != nil {
					appLog.Warn("generated invalid distance", "value", tok)
					continue
				}
				if !model.ValidDistance(d) || seenDist[d] {
					continue
				}
				seenDist[d] = true
				res.Distances = append(res.Distances, d)
			}
		}
	}
	sort.Ints(res.Distances)
	return res
}

func cutLabel(line, label string) (string, bool) {
	if len(line) < len(label) || !strings.EqualFold(line[:len(label)], label) {
		return "", false
	}
	return line[len(label):], true
}

func splitList(v string) []string {
	var out []string
	for _, tok := range strings.Split(v, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
