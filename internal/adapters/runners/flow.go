package runners

import (
	"context"
	"fmt"
	"time"

	"dario.cat/mergo"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// IfRunner evaluates its condition and emits the unmodified input on
// exactly one of the true/false ports. The coordinator marks the other
// branch SKIPPED; the branch itself never executes.
type IfRunner struct{}

func NewIfRunner() *IfRunner { return &IfRunner{} }

func (r *IfRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeFlow, domain.SubtypeIf
}

func (r *IfRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (r *IfRunner) OutputPorts() []string {
	return []string{domain.PortTrue, domain.PortFalse}
}

func (r *IfRunner) ValidateParameters(params map[string]interface{}) error {
	if _, err := conditionFromParams(params); err != nil {
		return &domain.ParameterError{Parameter: "condition", Reason: err.Error()}
	}
	return nil
}

func (r *IfRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	condition, err := conditionFromParams(params)
	if err != nil {
		return nil, domain.NewRunnerError(domain.ReasonBadParameters, err.Error(), err)
	}

	input := inputs[domain.PortMain]
	port := domain.PortFalse
	if condition.Evaluate(input) {
		port = domain.PortTrue
	}

	return &ports.RunnerResult{
		Outputs: map[string]interface{}{port: input},
	}, nil
}

// SwitchRunner matches a selector value against its case labels and emits
// on case_<label>, or default when nothing matches. Exactly one branch
// fires per evaluation.
type SwitchRunner struct{}

func NewSwitchRunner() *SwitchRunner { return &SwitchRunner{} }

func (r *SwitchRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeFlow, domain.SubtypeSwitch
}

func (r *SwitchRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (r *SwitchRunner) OutputPorts() []string {
	return []string{domain.PortDefault}
}

func (r *SwitchRunner) ValidateParameters(params map[string]interface{}) error {
	if _, ok := stringParam(params, "field"); !ok {
		return &domain.ParameterError{Parameter: "field", Reason: "selector field is required"}
	}
	cases, ok := params["cases"].([]interface{})
	if !ok || len(cases) == 0 {
		return &domain.ParameterError{Parameter: "cases", Reason: "at least one case label is required"}
	}
	return nil
}

func (r *SwitchRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	field, _ := stringParam(params, "field")
	cases, _ := params["cases"].([]interface{})

	input := inputs[domain.PortMain]
	selector, found := lookupField(input, field)

	port := domain.PortDefault
	if found {
		for _, label := range cases {
			if looseEqual(selector, label) {
				port = "case_" + scalarString(label)
				break
			}
		}
	}

	return &ports.RunnerResult{
		Outputs: map[string]interface{}{port: input},
	}, nil
}

// FilterRunner narrows a collection. It always emits on main and never
// branches or skips.
type FilterRunner struct{}

func NewFilterRunner() *FilterRunner { return &FilterRunner{} }

func (r *FilterRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeFlow, domain.SubtypeFilter
}

func (r *FilterRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (r *FilterRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (r *FilterRunner) ValidateParameters(params map[string]interface{}) error {
	if _, err := conditionFromParams(params); err != nil {
		return &domain.ParameterError{Parameter: "condition", Reason: err.Error()}
	}
	return nil
}

func (r *FilterRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	condition, err := conditionFromParams(params)
	if err != nil {
		return nil, domain.NewRunnerError(domain.ReasonBadParameters, err.Error(), err)
	}

	items, ok := asSlice(inputs[domain.PortMain])
	if !ok {
		return nil, domain.NewRunnerError(domain.ReasonBadParameters, "filter input must be a collection", nil)
	}

	filtered := make([]interface{}, 0, len(items))
	for _, item := range items {
		if condition.Evaluate(item) {
			filtered = append(filtered, item)
		}
	}

	return &ports.RunnerResult{
		Outputs: map[string]interface{}{domain.PortMain: filtered},
	}, nil
}

// LoopRunner extracts the collection to iterate and applies the safety
// bound. The coordinator drives the per-element subgraph dispatch and emits
// the aggregated list on main once all iterations complete.
type LoopRunner struct {
	defaultMaxIterations int
}

func NewLoopRunner(defaultMaxIterations int) *LoopRunner {
	return &LoopRunner{defaultMaxIterations: defaultMaxIterations}
}

func (r *LoopRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeFlow, domain.SubtypeLoop
}

func (r *LoopRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (r *LoopRunner) OutputPorts() []string {
	return []string{domain.PortItem, domain.PortMain}
}

func (r *LoopRunner) ValidateParameters(params map[string]interface{}) error {
	if n, ok := intParam(params, "max_iterations"); ok && n <= 0 {
		return &domain.ParameterError{Parameter: "max_iterations", Reason: "must be positive"}
	}
	return nil
}

func (r *LoopRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	source := inputs[domain.PortMain]
	if field, ok := stringParam(params, "collection_field"); ok {
		value, found := lookupField(source, field)
		if !found {
			return nil, domain.NewRunnerError(domain.ReasonBadParameters,
				fmt.Sprintf("collection field %q not present in input", field), nil)
		}
		source = value
	}

	items, ok := asSlice(source)
	if !ok {
		return nil, domain.NewRunnerError(domain.ReasonBadParameters, "loop input must be a collection", nil)
	}

	bound := r.defaultMaxIterations
	if n, ok := intParam(params, "max_iterations"); ok {
		bound = n
	}

	directive := &ports.LoopDirective{Items: items}
	var warnings []string
	if bound > 0 && len(items) > bound {
		directive.Items = items[:bound]
		directive.BoundHit = true
		warnings = append(warnings, fmt.Sprintf("loop truncated at max_iterations=%d (collection had %d items)", bound, len(items)))
	}

	return &ports.RunnerResult{
		Loop:     directive,
		Warnings: warnings,
	}, nil
}

// MergeRunner joins fan-in branches. Readiness (wait-for-all vs first-wins)
// is the coordinator's concern; by the time Execute runs, inputs[main]
// holds the ordered arrival slots, with nil standing in for SKIPPED
// branches in wait-for-all mode.
type MergeRunner struct{}

func NewMergeRunner() *MergeRunner { return &MergeRunner{} }

const (
	MergeModeWaitAll   = "wait_all"
	MergeModeFirstWins = "first_wins"
)

// MergeMode reads the merge policy from node parameters. Unset means
// wait-for-all.
func MergeMode(params map[string]interface{}) string {
	if mode, ok := stringParam(params, "mode"); ok && mode == MergeModeFirstWins {
		return MergeModeFirstWins
	}
	return MergeModeWaitAll
}

func (r *MergeRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeFlow, domain.SubtypeMerge
}

func (r *MergeRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (r *MergeRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (r *MergeRunner) ValidateParameters(params map[string]interface{}) error {
	if mode, ok := stringParam(params, "mode"); ok {
		if mode != MergeModeWaitAll && mode != MergeModeFirstWins {
			return &domain.ParameterError{Parameter: "mode", Reason: fmt.Sprintf("unknown merge mode %q", mode)}
		}
	}
	return nil
}

func (r *MergeRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	slots, ok := asSlice(inputs[domain.PortMain])
	if !ok {
		// Single arrival in first-wins mode comes through unwrapped.
		slots = []interface{}{inputs[domain.PortMain]}
	}

	if MergeMode(params) == MergeModeFirstWins {
		for _, slot := range slots {
			if slot != nil {
				return &ports.RunnerResult{
					Outputs: map[string]interface{}{domain.PortMain: slot},
				}, nil
			}
		}
		return &ports.RunnerResult{
			Outputs: map[string]interface{}{domain.PortMain: nil},
		}, nil
	}

	combined := combineSlots(slots)
	return &ports.RunnerResult{
		Outputs: map[string]interface{}{domain.PortMain: combined},
	}, nil
}

// combineSlots merges record-shaped arrivals into one record; anything else
// is emitted as the ordered slot list. Skipped branches stay visible as nil
// entries so data-sensitive consumers can detect them.
func combineSlots(slots []interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	allMaps := true
	for _, slot := range slots {
		if slot == nil {
			continue
		}
		m, ok := slot.(map[string]interface{})
		if !ok {
			allMaps = false
			break
		}
		if err := mergo.Merge(&merged, m, mergo.WithOverride); err != nil {
			allMaps = false
			break
		}
	}
	if allMaps {
		return map[string]interface{}{
			"combined": merged,
			"inputs":   slots,
		}
	}
	return map[string]interface{}{
		"inputs": slots,
	}
}

// WaitRunner suspends its node until a duration elapses or an external
// resume signal carrying a payload arrives, then emits that payload on
// main. The runner returns control immediately; it never blocks the
// coordinator.
type WaitRunner struct{}

func NewWaitRunner() *WaitRunner { return &WaitRunner{} }

func (r *WaitRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeFlow, domain.SubtypeWait
}

func (r *WaitRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (r *WaitRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (r *WaitRunner) ValidateParameters(params map[string]interface{}) error {
	duration, hasDuration := intParam(params, "duration_seconds")
	if hasDuration && duration <= 0 {
		return &domain.ParameterError{Parameter: "duration_seconds", Reason: "must be positive"}
	}
	timeout, hasTimeout := intParam(params, "timeout_seconds")
	if hasTimeout && timeout <= 0 {
		return &domain.ParameterError{Parameter: "timeout_seconds", Reason: "must be positive"}
	}
	if !hasDuration && !hasTimeout {
		return &domain.ParameterError{Parameter: "duration_seconds", Reason: "either duration_seconds or timeout_seconds is required"}
	}
	return nil
}

func (r *WaitRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	suspension := &ports.Suspension{
		ResumePayload: inputs[domain.PortMain],
	}
	if seconds, ok := intParam(params, "duration_seconds"); ok {
		suspension.ResumeAfter = time.Duration(seconds) * time.Second
	}
	if seconds, ok := intParam(params, "timeout_seconds"); ok {
		suspension.Timeout = time.Duration(seconds) * time.Second
	}

	return &ports.RunnerResult{Suspension: suspension}, nil
}
