package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicExecutor implements LLMExecutor against the Anthropic Messages
// API. jordigilh-kubernaut's go.mod carries anthropic-sdk-go as a real
// dependency but its retrieved files only reference it in test names, not
// call sites, so this wiring follows the SDK's documented public surface
// (client.Messages.New) rather than a pack-grounded call site; noted in
// DESIGN.md.
type AnthropicExecutor struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicExecutor constructs an executor bound to apiKey and model.
func NewAnthropicExecutor(apiKey, model string) *AnthropicExecutor {
	return &AnthropicExecutor{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Execute sends req.Task as a single user message, capping output tokens
// to the remaining budget.
func (a *AnthropicExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	maxTokens := int64(req.TokenBudget)
	if maxTokens <= 0 {
		maxTokens = 1
	}

	model := a.model
	if req.ModelHint != "" {
		model = anthropic.Model(req.ModelHint)
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Task)),
		},
	})
	duration := time.Since(start)

	if err != nil {
		return Result{OK: false, Error: fmt.Sprintf("anthropic messages.new: %v", err), DurationMs: int(duration.Milliseconds())}, nil
	}

	output := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			output += block.Text
		}
	}

	return Result{
		OK:           true,
		Output:       output,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		DurationMs:   int(duration.Milliseconds()),
	}, nil
}
