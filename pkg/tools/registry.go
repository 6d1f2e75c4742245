package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultMaxOutput = 4 * 1024
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Items       string      `json:"items,omitempty"` // element type when Type is "array"
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Spec is the descriptor handed to the reasoning model.
type Spec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// JSONSchema renders the parameters as a JSON Schema object.
func (s Spec) JSONSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(s.Parameters))
	required := []string{}

	for _, param := range s.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Type == "array" && param.Items != "" {
			items := map[string]interface{}{"type": param.Items}
			if len(param.Enum) > 0 {
				items["enum"] = toInterfaces(param.Enum)
			}
			paramSchema["items"] = items
		} else if len(param.Enum) > 0 {
			paramSchema["enum"] = toInterfaces(param.Enum)
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Tool is an external capability the agent may invoke.
type Tool interface {
	Spec() Spec
	Call(ctx context.Context, params map[string]interface{}) (string, error)
}

// Result is the outcome of one tool call. Failures are values, never panics or errors.
type Result struct {
	Tool      string        `json:"tool"`
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Observation is the text fed back into the reasoning loop.
func (r Result) Observation() string {
	if r.Success {
		return r.Output
	}
	return "tool error: " + r.Error
}

// Observer receives one callback per executed tool call.
type Observer func(r Result)

// Registry holds the tools available to the agent and executes them.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	specs   map[string]Spec
	schemas map[string]*gojsonschema.Schema

	timeout   time.Duration
	maxOutput int
	logger    zerolog.Logger
	observer  Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxOutput truncates outputs longer than n bytes.
func WithMaxOutput(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxOutput = n
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithObserver registers a callback for metrics.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:     make(map[string]Tool),
		specs:     make(map[string]Spec),
		schemas:   make(map[string]*gojsonschema.Schema),
		timeout:   defaultTimeout,
		maxOutput: defaultMaxOutput,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return errors.New("tool cannot be nil")
	}
	spec := tool.Spec()
	if err := validateSpec(spec); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.JSONSchema()))
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool already registered: %s", spec.Name)
	}
	r.tools[spec.Name] = tool
	r.specs[spec.Name] = spec
	r.schemas[spec.Name] = schema

	r.logger.Info().Str("tool", spec.Name).Msg("Tool registered")
	return nil
}

// Specs returns every tool descriptor sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Names returns the registered tool names sorted.
func (r *Registry) Names() []string {
	specs := r.Specs()
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// Lookup returns a tool's descriptor.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Execute runs a tool. Unknown tools, invalid parameters, errors and timeouts
// all come back as a failed Result.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) Result {
	start := time.Now()
	result := r.execute(ctx, name, params)
	result.Tool = name
	result.Duration = time.Since(start)

	if result.Success {
		r.logger.Debug().Str("tool", name).Dur("duration", result.Duration).Bool("truncated", result.Truncated).Msg("Tool execution completed")
	} else {
		r.logger.Warn().Str("tool", name).Dur("duration", result.Duration).Str("error", result.Error).Msg("Tool execution failed")
	}
	if r.observer != nil {
		r.observer(result)
	}
	return result
}

func (r *Registry) execute(ctx context.Context, name string, params map[string]interface{}) Result {
	r.mu.RLock()
	tool := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if tool == nil {
		return Result{Error: fmt.Sprintf("tool not found: %s", name)}
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(schema, params); err != nil {
		return Result{Error: fmt.Sprintf("parameter validation failed: %v", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		out, err := tool.Call(callCtx, params)
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{Error: o.err.Error()}
		}
		output, truncated := truncate(o.output, r.maxOutput)
		return Result{Success: true, Output: output, Truncated: truncated}
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{Error: fmt.Sprintf("tool execution timeout after %v", r.timeout)}
		}
		return Result{Error: "tool execution cancelled"}
	}
}

// CoerceParams turns a raw text argument into named parameters.
// JSON objects are decoded as-is; anything else is bound to the tool's first required
// parameter, falling back to its first parameter.
func CoerceParams(spec Spec, raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "json"))

	if strings.HasPrefix(raw, "{") {
		var params map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &params); err == nil {
			return params
		}
	}

	raw = strings.Trim(raw, `"'`)
	if raw == "" || len(spec.Parameters) == 0 {
		return map[string]interface{}{}
	}

	target := spec.Parameters[0]
	for _, p := range spec.Parameters {
		if p.Required {
			target = p
			break
		}
	}
	return map[string]interface{}{target.Name: raw}
}

func validateSpec(spec Spec) error {
	if spec.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if spec.Description == "" {
		return errors.New("tool description cannot be empty")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range spec.Parameters {
		if param.Name == "" {
			return errors.New("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
		if param.Type == "array" && param.Items != "" && !validTypes[param.Items] {
			return fmt.Errorf("invalid item type %q for %s", param.Items, param.Name)
		}
	}
	return nil
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func truncate(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	cut := max
	// do not split a multi-byte rune
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... [output truncated]", true
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
