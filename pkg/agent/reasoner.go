package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/groupbot/pkg/memory"
	"github.com/harun/groupbot/pkg/tools"
)

// StepKind tells the executor what a reasoning round produced.
type StepKind int

const (
	StepFinal StepKind = iota
	StepToolCall
	StepParseFailure
)

func (k StepKind) String() string {
	switch k {
	case StepFinal:
		return "final"
	case StepToolCall:
		return "tool_call"
	case StepParseFailure:
		return "parse_failure"
	default:
		return "unknown"
	}
}

// Step is the result of one reasoning round.
type Step struct {
	Kind   StepKind
	Answer string
	Call   ToolCall
	// Input is the raw action input when the tool call came from text rather than
	// structured arguments. Call.Parameters is nil in that case.
	Input string
	Raw   string
}

// ScratchEntry is one tool call made earlier in the same attempt and what it returned.
type ScratchEntry struct {
	Call        ToolCall
	Input       string
	Observation string
}

// ReasonRequest is everything a Reasoner sees for one round.
type ReasonRequest struct {
	Input      string
	History    []memory.Turn
	Tools      []tools.Spec
	Scratchpad []ScratchEntry
}

// Reasoner picks the next step of a tool loop.
type Reasoner interface {
	Reason(ctx context.Context, req ReasonRequest) (Step, error)
}

const defaultReasonerPrompt = `你是一个友好的群聊助手。你可以使用以下工具来帮助回答问题：

可用工具：
%s

工具说明：
%s

请根据聊天历史和当前输入生成合适的回复。

重要说明：
1. 只在需要查询具体加密货币数据时才使用工具
2. 对于闲聊、问候、情感类问题，直接使用以下格式回复：
   Thought: 这是一个普通对话，不需要使用工具
   Final Answer: <你的回复>
3. 对于加密货币查询，使用以下格式：
   Thought: <你的思考>
   Action: <工具名称>
   Action Input: <货币ID>
   工具结果会以 Observation: 开头返回给你，最后都要用 Final Answer 总结分析结果`

// ReasonerConfig configures an LLMReasoner. Zero values fall back to defaults.
type ReasonerConfig struct {
	Model        string
	SystemPrompt string // may contain two %s verbs for tool names and tool descriptions
	Temperature  float64
	MaxTokens    int
	// NativeTools sends tool definitions with the request so providers can return structured calls.
	NativeTools bool
	Logger      zerolog.Logger
}

// LLMReasoner implements Reasoner on top of an LLMProvider.
type LLMReasoner struct {
	provider LLMProvider
	cfg      ReasonerConfig
}

// NewLLMReasoner creates a reasoner backed by provider.
func NewLLMReasoner(provider LLMProvider, cfg ReasonerConfig) *LLMReasoner {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultReasonerPrompt
	}
	return &LLMReasoner{provider: provider, cfg: cfg}
}

// Reason makes one model call and turns the reply into a Step.
func (r *LLMReasoner) Reason(ctx context.Context, req ReasonRequest) (Step, error) {
	llmReq := LLMRequest{
		Model:        r.cfg.Model,
		SystemPrompt: r.systemPrompt(req.Tools),
		Messages:     historyMessages(req.History),
		Temperature:  r.cfg.Temperature,
		MaxTokens:    r.cfg.MaxTokens,
		Stop:         []string{markerObservation},
	}
	llmReq.Messages = append(llmReq.Messages, Message{
		Role:    RoleUser,
		Content: renderInput(req.Input, req.Scratchpad),
	})
	if r.cfg.NativeTools {
		llmReq.Tools = ToolDefinitionsFromSpecs(req.Tools)
	}

	resp, err := r.provider.Call(ctx, llmReq)
	if err != nil {
		return Step{}, err
	}

	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		if call.Parameters == nil {
			call.Parameters = map[string]interface{}{}
		}
		r.cfg.Logger.Debug().Str("tool", call.Name).Int("calls", len(resp.ToolCalls)).Msg("Model requested tool call")
		return Step{Kind: StepToolCall, Call: call, Raw: resp.Content}, nil
	}

	step, err := ParseReAct(resp.Content)
	if err != nil {
		r.cfg.Logger.Debug().Err(err).Str("output", resp.Content).Msg("Failed to parse reasoning output")
	}
	return step, err
}

func (r *LLMReasoner) systemPrompt(specs []tools.Spec) string {
	if strings.Count(r.cfg.SystemPrompt, "%s") != 2 {
		return r.cfg.SystemPrompt
	}

	names := make([]string, 0, len(specs))
	var desc strings.Builder
	for _, s := range specs {
		names = append(names, s.Name)
		fmt.Fprintf(&desc, "- %s: %s\n", s.Name, s.Description)
	}
	return fmt.Sprintf(r.cfg.SystemPrompt, strings.Join(names, ", "), strings.TrimSpace(desc.String()))
}

func historyMessages(history []memory.Turn) []Message {
	msgs := make([]Message, 0, len(history)+1)
	for _, t := range history {
		switch t.Role {
		case memory.RoleHuman:
			msgs = append(msgs, Message{Role: RoleUser, Content: t.Content})
		case memory.RoleAssistant:
			msgs = append(msgs, Message{Role: RoleAssistant, Content: t.Content})
		}
	}
	return msgs
}

func renderInput(input string, pad []ScratchEntry) string {
	if len(pad) == 0 {
		return input
	}

	var b strings.Builder
	b.WriteString(input)
	b.WriteString("\n\n")
	for _, e := range pad {
		in := e.Input
		if in == "" && len(e.Call.Parameters) > 0 {
			in = formatParams(e.Call.Parameters)
		}
		fmt.Fprintf(&b, "%s %s\n%s %s\n%s %s\n", markerAction, e.Call.Name, markerActionInput, in, markerObservation, e.Observation)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatParams(params map[string]interface{}) string {
	parts := make([]string, 0, len(params))
	for k, v := range params {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	// map order is random; keep prompts stable
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
