// Package evaluator implements the safety, leak and energy evaluators on
// top of a single-shot reasoning provider.
package evaluator

import "context"

// Provider is the interface for any reasoning backend. One call is one
// prompt and one text completion; there is no tool use.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is a single reasoning call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the provider's completion.
type Response struct {
	Text       string
	StopReason string
	Model      string
	Usage      Usage
}

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
