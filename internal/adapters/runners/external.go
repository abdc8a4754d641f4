package runners

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// ExternalActionRunner calls a third-party provider on the user's behalf.
// Credentials are resolved through the CredentialProvider collaborator; a
// missing credential is a structured error, never a fabricated result.
type ExternalActionRunner struct {
	credentials ports.CredentialProvider
	client      *http.Client
}

func NewExternalActionRunner(credentials ports.CredentialProvider, client *http.Client) *ExternalActionRunner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ExternalActionRunner{
		credentials: credentials,
		client:      client,
	}
}

func (e *ExternalActionRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeExternalAction, domain.SubtypeGenericProvider
}

func (e *ExternalActionRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (e *ExternalActionRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (e *ExternalActionRunner) ValidateParameters(params map[string]interface{}) error {
	if provider, ok := stringParam(params, "provider"); !ok || provider == "" {
		return &domain.ParameterError{Parameter: "provider", Reason: "provider is required"}
	}
	if endpoint, ok := stringParam(params, "endpoint"); !ok || endpoint == "" {
		return &domain.ParameterError{Parameter: "endpoint", Reason: "endpoint is required"}
	}
	return nil
}

func (e *ExternalActionRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	provider, _ := stringParam(params, "provider")
	endpoint, _ := stringParam(params, "endpoint")

	userID := ""
	if rc, ok := domain.GetRunContext(ctx); ok {
		userID = rc.UserID
	}

	if e.credentials == nil {
		return nil, missingCredential(provider, nil)
	}
	creds, err := e.credentials.Get(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, ports.ErrRequiresAuth) || domain.IsNotFound(err) {
			return nil, missingCredential(provider, err)
		}
		return nil, domain.NewRunnerError(domain.ReasonInternal,
			fmt.Sprintf("credential lookup for %s failed: %v", provider, err), err)
	}

	payload := map[string]interface{}{
		"input": inputs[domain.PortMain],
	}
	if operation, ok := stringParam(params, "operation"); ok {
		payload["operation"] = operation
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewRunnerError(domain.ReasonBadParameters, "action payload is not serializable", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewRunnerError(domain.ReasonBadParameters, fmt.Sprintf("invalid endpoint: %v", err), err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token, ok := creds["token"]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if apiKey, ok := creds["api_key"]; ok {
		req.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &domain.RunnerError{
			Reason:   domain.ReasonNetwork,
			Message:  fmt.Sprintf("%s action failed: %v", provider, err),
			Solution: "check provider availability",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, domain.NewRunnerError(domain.ReasonBadResponse, "failed to read provider response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &domain.RunnerError{
			Reason:  domain.ReasonBadResponse,
			Message: fmt.Sprintf("%s returned status %d", provider, resp.StatusCode),
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, string(data)),
		}
	}

	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		parsed = string(data)
	}

	return &ports.RunnerResult{
		Outputs: map[string]interface{}{
			domain.PortMain: map[string]interface{}{
				"provider": provider,
				"status":   resp.StatusCode,
				"result":   parsed,
			},
		},
	}, nil
}

func missingCredential(provider string, cause error) *domain.RunnerError {
	return &domain.RunnerError{
		Reason:        domain.ReasonCredentialMissing,
		Message:       fmt.Sprintf("no credentials available for provider %s", provider),
		Solution:      fmt.Sprintf("connect your %s account before running this workflow", provider),
		Documentation: "https://docs.loom.dev/credentials",
		Err:           cause,
	}
}
