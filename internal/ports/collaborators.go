package ports

import (
	"context"
	"errors"
)

// ErrRequiresAuth is returned by a CredentialProvider when no credentials
// exist for a user/provider pair. Runners surface it as a structured
// credential_missing error, never as a fabricated success.
var ErrRequiresAuth = errors.New("credentials not available: authorization required")

type Credentials map[string]string

// CredentialProvider supplies secrets to EXTERNAL_ACTION and TOOL runners.
// Implemented outside the engine.
type CredentialProvider interface {
	Get(ctx context.Context, userID, provider string) (Credentials, error)
}

// MemoryBackend is the persistence collaborator behind MEMORY nodes.
type MemoryBackend interface {
	Store(ctx context.Context, userID, memoryNodeID string, payload map[string]interface{}) error
	Retrieve(ctx context.Context, userID, memoryNodeID string) (map[string]interface{}, error)
	Update(ctx context.Context, userID, memoryNodeID string, payload map[string]interface{}) error
	Delete(ctx context.Context, userID, memoryNodeID string) error
}

type ModelConfig struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// AIModelClient completes prompts for AI_AGENT runners.
type AIModelClient interface {
	Complete(ctx context.Context, prompt string, config ModelConfig) (string, error)
}

// ToolFunc is an in-process callable invoked by TOOL runners.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)
