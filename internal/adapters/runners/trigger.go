package runners

import (
	"context"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// TriggerRunner starts an execution: the coordinator seeds it with the
// trigger payload on main, and it passes that payload through unchanged.
// One registration per trigger subtype (MANUAL, WEBHOOK, CRON); CRON firing
// itself is handled by the scheduler adapter, which calls StartExecution
// with the fire time as payload.
type TriggerRunner struct {
	subtype string
}

func NewManualTrigger() *TriggerRunner  { return &TriggerRunner{subtype: domain.SubtypeManual} }
func NewWebhookTrigger() *TriggerRunner { return &TriggerRunner{subtype: domain.SubtypeWebhook} }
func NewCronTrigger() *TriggerRunner    { return &TriggerRunner{subtype: domain.SubtypeCron} }

func (t *TriggerRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeTrigger, t.subtype
}

func (t *TriggerRunner) InputPorts() []string {
	return nil
}

func (t *TriggerRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (t *TriggerRunner) ValidateParameters(params map[string]interface{}) error {
	if t.subtype != domain.SubtypeCron {
		return nil
	}
	if _, ok := stringParam(params, "cron"); !ok {
		return &domain.ParameterError{Parameter: "cron", Reason: "CRON trigger requires a cron spec"}
	}
	return nil
}

func (t *TriggerRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	return &ports.RunnerResult{
		Outputs: map[string]interface{}{
			domain.PortMain: inputs[domain.PortMain],
		},
	}, nil
}
