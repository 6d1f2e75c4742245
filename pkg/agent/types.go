package agent

import (
	"github.com/harun/groupbot/pkg/tools"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a provider conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition is the provider-neutral function declaration sent with a request.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolDefinitionsFromSpecs converts registry descriptors.
func ToolDefinitionsFromSpecs(specs []tools.Spec) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.JSONSchema(),
		})
	}
	return defs
}

// AuthProfile represents credentials for one LLM provider endpoint.
type AuthProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // "anthropic", "openai", "gemini"
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	Model    string `json:"model,omitempty" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"` // lower is tried first
}

// LLMRequest contains the request parameters for one model call.
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Temperature  float64
	MaxTokens    int
	Stop         []string
}

// LLMResponse contains the response from the model.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}
