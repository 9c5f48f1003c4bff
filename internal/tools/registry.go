// Package tools exposes browser and vision operations as declarative tool
// descriptors for a tool-calling agent loop. Handlers never return errors; every
// outcome is a Result the loop can show to the user.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrToolUnregistered = errors.New("tool is not registered")
	ErrNilHandler       = errors.New("tool handler is nil")
	ErrToolNameEmpty    = errors.New("tool name is empty")
	ErrToolExists       = errors.New("tool is already registered")
)

const (
	successMarker = "✅ "
	failureMarker = "❌ "
	infoMarker    = "ℹ️ "
)

// Definition describes a tool to the model.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ScreenRecord is the structured result of a screen capture.
type ScreenRecord struct {
	Type             string  `json:"type"`
	Message          string  `json:"message"`
	ScreenshotBase64 *string `json:"screenshot_base64"`
}

// MarkedRecord is the structured result of a marked screenshot. Image is nil
// and Elements empty on failure.
type MarkedRecord struct {
	Type      string           `json:"type"`
	Message   string           `json:"message"`
	Image     *string          `json:"image"`
	Elements  []map[string]any `json:"elements"`
	SessionID string           `json:"session_id,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
}

// PageCapture is one visited page of a comparison.
type PageCapture struct {
	Index            int     `json:"index"`
	URL              string  `json:"url"`
	ScreenshotBase64 *string `json:"screenshot_base64"`
	Error            string  `json:"error,omitempty"`
}

// Result is what a tool call produced.
type Result struct {
	Success bool          `json:"success"`
	Text    string        `json:"text"`
	Record  *ScreenRecord `json:"record,omitempty"`
	Marked  *MarkedRecord `json:"marked,omitempty"`
	Pages   []PageCapture `json:"pages,omitempty"`
}

// Succeed builds a successful result with the success marker.
func Succeed(format string, args ...any) Result {
	return Result{Success: true, Text: successMarker + fmt.Sprintf(format, args...)}
}

// Fail builds a failed result with the failure marker.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Text: failureMarker + fmt.Sprintf(format, args...)}
}

// Info builds a successful result for an expected non-event, like closing nothing.
func Info(format string, args ...any) Result {
	return Result{Success: true, Text: infoMarker + fmt.Sprintf(format, args...)}
}

// Handler runs one tool call with already decoded arguments.
type Handler func(ctx context.Context, args map[string]any) Result

type entry struct {
	def     Definition
	handler Handler
}

// Registry holds tools by name.
type Registry struct {
	logger *zap.Logger

	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger.Named("tools"), tools: make(map[string]entry)}
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return ErrToolNameEmpty
	}
	if handler == nil {
		return fmt.Errorf("%w: %q", ErrNilHandler, def.Name)
	}
	if def.InputSchema == nil {
		def.InputSchema = objectSchema(nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; ok {
		return fmt.Errorf("%w: %q", ErrToolExists, def.Name)
	}
	r.tools[def.Name] = entry{def: def, handler: handler}
	return nil
}

// Definitions lists the registered tools sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke runs the named tool. The error is only for calls the registry cannot
// dispatch; tool failures come back as a failed Result.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (res Result, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	if name == "" {
		return Result{}, ErrToolNameEmpty
	}

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrToolUnregistered, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Tool panicked", zap.String("tool", name), zap.Any("panic", p), zap.Stack("stack"))
			res = Fail("Unexpected error in %s: %v", name, p)
		}
	}()

	r.logger.Debug("Invoking tool", zap.String("tool", name), zap.Any("args", args))
	res = e.handler(ctx, args)
	if !res.Success {
		r.logger.Warn("Tool reported failure", zap.String("tool", name), zap.String("result", res.Text))
	}
	return res, nil
}
