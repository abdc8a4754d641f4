package runners

import (
	"context"
	"fmt"
	"strings"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// AIAgentRunner completes a prompt through the external model provider.
// Provider failures are structured errors and retried per the node's retry
// policy, never replaced by a placeholder response.
type AIAgentRunner struct {
	client ports.AIModelClient
}

func NewAIAgentRunner(client ports.AIModelClient) *AIAgentRunner {
	return &AIAgentRunner{client: client}
}

func (a *AIAgentRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeAIAgent, domain.SubtypeChat
}

func (a *AIAgentRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (a *AIAgentRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (a *AIAgentRunner) ValidateParameters(params map[string]interface{}) error {
	prompt, ok := stringParam(params, "prompt")
	if !ok || prompt == "" {
		return &domain.ParameterError{Parameter: "prompt", Reason: "prompt is required"}
	}
	return nil
}

func (a *AIAgentRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	if a.client == nil {
		return nil, &domain.RunnerError{
			Reason:   domain.ReasonModelProvider,
			Message:  "no AI model client is configured",
			Solution: "supply an AIModelClient when building the engine",
		}
	}

	prompt, _ := stringParam(params, "prompt")
	prompt = renderPrompt(prompt, inputs[domain.PortMain])

	config := ports.ModelConfig{}
	if model, ok := stringParam(params, "model"); ok {
		config.Model = model
	}
	if system, ok := stringParam(params, "system_prompt"); ok {
		config.SystemPrompt = system
	}
	if tokens, ok := intParam(params, "max_tokens"); ok {
		config.MaxTokens = tokens
	}
	if temp, ok := params["temperature"].(float64); ok {
		config.Temperature = float32(temp)
	}

	text, err := a.client.Complete(ctx, prompt, config)
	if err != nil {
		return nil, &domain.RunnerError{
			Reason:   domain.ReasonModelProvider,
			Message:  fmt.Sprintf("model completion failed: %v", err),
			Solution: "check provider credentials and model availability",
			Err:      err,
		}
	}

	return &ports.RunnerResult{
		Outputs: map[string]interface{}{
			domain.PortMain: map[string]interface{}{
				"response": text,
				"prompt":   prompt,
			},
		},
	}, nil
}

// renderPrompt substitutes {{input}} and {{input.<field>}} placeholders
// with values from the node's input.
func renderPrompt(prompt string, input interface{}) string {
	if !strings.Contains(prompt, "{{") {
		return prompt
	}
	out := strings.ReplaceAll(prompt, "{{input}}", scalarString(input))
	for {
		start := strings.Index(out, "{{input.")
		if start < 0 {
			break
		}
		end := strings.Index(out[start:], "}}")
		if end < 0 {
			break
		}
		placeholder := out[start : start+end+2]
		field := placeholder[len("{{input.") : len(placeholder)-2]
		value, found := lookupField(input, field)
		if !found {
			value = ""
		}
		out = strings.ReplaceAll(out, placeholder, scalarString(value))
	}
	return out
}
