package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(4), TotalTokens: aws.Int32(14)},
	}
}

func TestBedrockComplete(t *testing.T) {
	api := &fakeConverse{out: textOutput(`  {"reply":"hola"}  `)}
	client := NewBedrockLLMClient(api, "anthropic.claude-3-haiku")

	resp, err := client.Complete(context.Background(), LLMRequest{
		System: []string{"be brief", " "},
		Messages: []ChatMessage{
			{Role: ChatRoleAssistant, Content: "¿Qué día?"},
			{Role: ChatRoleSystem, Content: "extra rule"},
			{Role: ChatRoleUser, Content: "el lunes"},
		},
		MaxTokens:   200,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != `{"reply":"hola"}` || resp.Usage.TotalTokens != 14 || resp.StopReason != "end_turn" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if aws.ToString(api.input.ModelId) != "anthropic.claude-3-haiku" {
		t.Fatalf("unexpected model %q", aws.ToString(api.input.ModelId))
	}
	if len(api.input.System) != 2 || len(api.input.Messages) != 2 {
		t.Fatalf("expected 2 system blocks and 2 messages, got %d/%d", len(api.input.System), len(api.input.Messages))
	}
	if aws.ToInt32(api.input.InferenceConfig.MaxTokens) != 200 {
		t.Fatalf("max tokens not forwarded")
	}
}

func TestBedrockCompleteErrors(t *testing.T) {
	client := NewBedrockLLMClient(&fakeConverse{}, "")
	if _, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}}}); err == nil {
		t.Fatalf("expected missing model error")
	}

	client = NewBedrockLLMClient(&fakeConverse{out: textOutput("x")}, "m")
	if _, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: "tool", Content: "x"}}}); err == nil {
		t.Fatalf("expected unsupported role error")
	}

	client = NewBedrockLLMClient(&fakeConverse{out: textOutput("   ")}, "m")
	if _, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}}}); err == nil {
		t.Fatalf("expected empty output error")
	}

	client = NewBedrockLLMClient(&fakeConverse{err: errors.New("throttled")}, "m")
	if _, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}}}); err == nil {
		t.Fatalf("expected api error")
	}
}

func TestFallbackLLMClient(t *testing.T) {
	primary := &fakeLLM{err: errors.New("primary down")}
	fallback := &fakeLLM{responses: []string{"from fallback"}}
	client := NewFallbackLLMClient(primary, fallback, nil)

	resp, err := client.Complete(context.Background(), LLMRequest{Model: "gemini-2.5-flash", Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hola"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "from fallback" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if fallback.requests[0].Model != "" {
		t.Fatalf("fallback should use its own model, got %q", fallback.requests[0].Model)
	}

	only := NewFallbackLLMClient(&fakeLLM{err: errors.New("down")}, nil, nil)
	if _, err := only.Complete(context.Background(), LLMRequest{}); err == nil {
		t.Fatalf("expected primary error without fallback")
	}
}
