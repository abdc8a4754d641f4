package runners

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// HTTPRequestRunner performs one HTTP call. Transport failures surface as
// structured network errors and are retried per the node's retry policy.
type HTTPRequestRunner struct {
	client *http.Client
}

func NewHTTPRequestRunner(client *http.Client) *HTTPRequestRunner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRequestRunner{client: client}
}

func (h *HTTPRequestRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeAction, domain.SubtypeHTTPRequest
}

func (h *HTTPRequestRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (h *HTTPRequestRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (h *HTTPRequestRunner) ValidateParameters(params map[string]interface{}) error {
	url, ok := stringParam(params, "url")
	if !ok || url == "" {
		return &domain.ParameterError{Parameter: "url", Reason: "url is required"}
	}
	if method, ok := stringParam(params, "method"); ok {
		switch strings.ToUpper(method) {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
		default:
			return &domain.ParameterError{Parameter: "method", Reason: fmt.Sprintf("unsupported method %q", method)}
		}
	}
	return nil
}

func (h *HTTPRequestRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	url, _ := stringParam(params, "url")
	method, ok := stringParam(params, "method")
	if !ok {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	if raw, ok := params["body"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, domain.NewRunnerError(domain.ReasonBadParameters, "request body is not serializable", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, domain.NewRunnerError(domain.ReasonBadParameters, fmt.Sprintf("invalid request: %v", err), err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := mapParam(params, "headers"); ok {
		for key, value := range headers {
			req.Header.Set(key, scalarString(value))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &domain.RunnerError{
			Reason:   domain.ReasonNetwork,
			Message:  fmt.Sprintf("request to %s failed: %v", url, err),
			Solution: "check the target URL and network reachability",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, domain.NewRunnerError(domain.ReasonBadResponse, "failed to read response body", err)
	}

	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		parsed = string(data)
	}

	return &ports.RunnerResult{
		Outputs: map[string]interface{}{
			domain.PortMain: map[string]interface{}{
				"status":  resp.StatusCode,
				"headers": flattenHeader(resp.Header),
				"body":    parsed,
			},
		},
	}, nil
}

func flattenHeader(header http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(header))
	for key := range header {
		out[key] = header.Get(key)
	}
	return out
}

// LogRunner writes a message to the process log and passes its input
// through unchanged.
type LogRunner struct {
	logger *slog.Logger
}

func NewLogRunner(logger *slog.Logger) *LogRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRunner{logger: logger.With("component", "log-node")}
}

func (l *LogRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeAction, domain.SubtypeLog
}

func (l *LogRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (l *LogRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (l *LogRunner) ValidateParameters(params map[string]interface{}) error {
	return nil
}

func (l *LogRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	message, _ := stringParam(params, "message")
	attrs := []any{"input", inputs[domain.PortMain]}
	if rc, ok := domain.GetRunContext(ctx); ok {
		attrs = append(attrs, "execution_id", rc.ExecutionID, "node_id", rc.NodeID)
	}

	level, _ := stringParam(params, "level")
	switch level {
	case "debug":
		l.logger.Debug(message, attrs...)
	case "warn":
		l.logger.Warn(message, attrs...)
	case "error":
		l.logger.Error(message, attrs...)
	default:
		l.logger.Info(message, attrs...)
	}

	return &ports.RunnerResult{
		Outputs: map[string]interface{}{
			domain.PortMain: inputs[domain.PortMain],
		},
	}, nil
}

// SetRunner shapes data: it overlays the configured values onto its input
// record without mutating the input.
type SetRunner struct{}

func NewSetRunner() *SetRunner { return &SetRunner{} }

func (s *SetRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeAction, domain.SubtypeSet
}

func (s *SetRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (s *SetRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (s *SetRunner) ValidateParameters(params map[string]interface{}) error {
	if _, ok := mapParam(params, "values"); !ok {
		return &domain.ParameterError{Parameter: "values", Reason: "values map is required"}
	}
	return nil
}

func (s *SetRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	values, _ := mapParam(params, "values")

	out := make(map[string]interface{})
	if input, ok := inputs[domain.PortMain].(map[string]interface{}); ok {
		for key, value := range input {
			out[key] = value
		}
	}
	for key, value := range values {
		out[key] = value
	}

	return &ports.RunnerResult{
		Outputs: map[string]interface{}{domain.PortMain: out},
	}, nil
}
