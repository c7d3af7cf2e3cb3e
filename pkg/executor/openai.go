package executor

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIExecutor implements LLMExecutor against the OpenAI chat completion
// API, grounded on smilemakc-mbflow's internal/application/executor
// node_executors.go (openai.NewClient + ChatCompletionRequest/Message
// shape).
type OpenAIExecutor struct {
	client *openai.Client
	model  string
}

// NewOpenAIExecutor constructs an executor bound to apiKey and model.
func NewOpenAIExecutor(apiKey, model string) *OpenAIExecutor {
	return &OpenAIExecutor{client: openai.NewClient(apiKey), model: model}
}

// Execute sends req.Task as a single user message, capping completion
// tokens at the full remaining budget (req.TokenBudget, minimum 1).
func (o *OpenAIExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	maxTokens := req.TokenBudget
	if maxTokens <= 0 {
		maxTokens = 1
	}

	model := o.model
	if req.ModelHint != "" {
		model = req.ModelHint
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               model,
		MaxCompletionTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Task},
		},
	})
	duration := time.Since(start)

	if err != nil {
		return Result{OK: false, Error: fmt.Sprintf("openai chat completion: %v", err), DurationMs: int(duration.Milliseconds())}, nil
	}

	output := ""
	if len(resp.Choices) > 0 {
		output = resp.Choices[0].Message.Content
	}

	return Result{
		OK:           true,
		Output:       output,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		DurationMs:   int(duration.Milliseconds()),
	}, nil
}
