// Package tools is the closed set of tools a negotiating agent may call. Each
// tool has a typed request and response; Registry.Invoke decodes the loosely
// typed parameters an agent sends, runs the tool and records the call in the
// session's Log. Tool problems are reported as {"ok": false, "error": ...}
// results and never as Go errors or panics.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/go-viper/mapstructure/v2"
)

// Name identifies a tool.
type Name string

const (
	CheckAvailability Name = "check_availability"
	GetBusyWindows    Name = "get_busy_windows"
	ProviderLookup    Name = "provider_lookup"
	ListProviders     Name = "list_providers"
	GetDistance       Name = "get_distance"
	GetRating         Name = "get_rating"
	ValidateSlot      Name = "validate_slot"
	ConfirmSlot       Name = "confirm_slot"
)

// Definition describes a tool to an agent runtime. Parameters is a JSON schema.
type Definition struct {
	Name        Name
	Description string
	Parameters  map[string]any
}

// Status is embedded in every response.
type Status struct {
	OK    bool   `mapstructure:"ok"`
	Error string `mapstructure:"error,omitempty"`
}

func success() Status { return Status{OK: true} }

func failure(format string, args ...any) Status {
	return Status{Error: fmt.Sprintf(format, args...)}
}

type tool interface {
	definition() Definition
	call(ctx context.Context, r *Registry, params map[string]any) any
}

// typedTool adapts a handler over a concrete request type to the untyped
// parameter maps agents send.
type typedTool[Req any] struct {
	def Definition
	fn  func(ctx context.Context, r *Registry, req Req) any
}

func (t typedTool[Req]) definition() Definition { return t.def }

func (t typedTool[Req]) call(ctx context.Context, r *Registry, params map[string]any) any {
	var req Req
	if err := mapstructure.WeakDecode(params, &req); err != nil {
		return failure("invalid parameters: %v", err)
	}
	return t.fn(ctx, r, req)
}

// Registry serves tool calls for one session.
type Registry struct {
	directory Directory
	ratings   RatingSource
	distances DistanceSource
	calendar  CalendarSource
	now       func() time.Time
	logger    *slog.Logger

	log   *Log
	tools map[Name]tool
	order []Name
}

type Option func(*Registry)

func WithRatings(s RatingSource) Option     { return func(r *Registry) { r.ratings = s } }
func WithDistances(s DistanceSource) Option { return func(r *Registry) { r.distances = s } }
func WithCalendar(s CalendarSource) Option  { return func(r *Registry) { r.calendar = s } }

// WithClock sets the time source used for default query windows and for the
// location of timestamps without an offset.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// NewRegistry returns a registry with an empty log. Ratings and distances
// default to the catalog records and the calendar defaults to an empty one.
func NewRegistry(dir Directory, opts ...Option) *Registry {
	r := &Registry{
		directory: dir,
		ratings:   CatalogFacts{},
		distances: CatalogFacts{},
		calendar:  StaticCalendar{},
		now:       time.Now,
		logger:    slog.Default(),
		log:       &Log{},
		tools:     map[Name]tool{},
	}

	for _, opt := range opts {
		opt(r)
	}

	for _, t := range builtins() {
		def := t.definition()
		r.tools[def.Name] = t
		r.order = append(r.order, def.Name)
	}

	return r
}

// Log returns the session's invocation log.
func (r *Registry) Log() *Log { return r.log }

// Definitions lists the tools in a stable order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].definition())
	}
	return defs
}

// Invoke runs the named tool and records the call. The returned map always
// has an "ok" key.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (result map[string]any) {
	params = maps.Clone(params)
	if params == nil {
		params = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p)
			result = encode(failure("tool %s failed: %v", name, p))
		}

		r.log.Append(models.ToolInvocation{ToolName: name, Params: params, Result: result})
		r.logger.Debug("tool invoked", "tool", name, "ok", result["ok"])
	}()

	t, ok := r.tools[Name(name)]
	if !ok {
		return encode(failure("unknown tool: %s", name))
	}

	return encode(t.call(ctx, r, params))
}

func encode(resp any) map[string]any {
	out := map[string]any{}
	if err := mapstructure.Decode(resp, &out); err != nil {
		return map[string]any{"ok": false, "error": fmt.Sprintf("encoding result: %v", err)}
	}
	if _, ok := out["ok"]; !ok {
		out["ok"] = false
	}
	return out
}

func (r *Registry) location() *time.Location {
	return r.now().Location()
}
