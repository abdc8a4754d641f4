package loom

import (
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// RawWorkflow is the authoring-time workflow definition. Connection
// references may use node names or IDs; RegisterWorkflow resolves them into
// an ID-only ResolvedWorkflow.
type RawWorkflow = domain.RawWorkflow

// RawNode is a node as authored. ID is optional; the resolver assigns one
// when omitted.
type RawNode = domain.RawNode

// RawConnections maps source node reference -> output port -> targets.
type RawConnections = domain.RawConnections

// ConnectionTarget is one edge endpoint as authored.
type ConnectionTarget = domain.ConnectionTarget

// ResolvedWorkflow is the validated, ID-only execution graph. It is the
// only representation the engine ever runs.
type ResolvedWorkflow = domain.ResolvedWorkflow

// Node is a resolved workflow node.
type Node = domain.Node

// Settings holds workflow-level execution policy.
type Settings = domain.Settings

// RetryPolicy is a node or workflow retry budget.
type RetryPolicy = domain.RetryPolicy

// Execution is one run of a workflow, including every node's run record.
type Execution = domain.Execution

// NodeRunRecord tracks one node's progress through an execution.
type NodeRunRecord = domain.NodeRunRecord

// ExecutionLogEntry is one entry of an execution's log stream.
type ExecutionLogEntry = domain.ExecutionLogEntry

// ExecutionSummary aggregates node counts and durations for an execution.
type ExecutionSummary = domain.ExecutionSummary

// RunnerError is the structured failure detail carried by failed node runs.
type RunnerError = domain.RunnerError

// Config configures a Manager.
type Config = domain.Config

// EngineConfig configures the execution engine.
type EngineConfig = domain.EngineConfig

// EngineMetrics holds the engine's lifetime execution and node counters.
type EngineMetrics = domain.EngineMetrics

// Runner executes one node kind. Implement it to add custom node types.
type Runner = ports.Runner

// RunnerResult is the outcome of one node attempt.
type RunnerResult = ports.RunnerResult

// ToolFunc is an in-process callable invoked by TOOL nodes.
type ToolFunc = ports.ToolFunc

// AIModelClient completes prompts for AI_AGENT nodes.
type AIModelClient = ports.AIModelClient

// CredentialProvider resolves per-user provider credentials for
// EXTERNAL_ACTION nodes.
type CredentialProvider = ports.CredentialProvider

// Credentials is a provider credential bundle.
type Credentials = ports.Credentials

type NodeType = domain.NodeType

const (
	NodeTypeTrigger        = domain.NodeTypeTrigger
	NodeTypeAIAgent        = domain.NodeTypeAIAgent
	NodeTypeAction         = domain.NodeTypeAction
	NodeTypeExternalAction = domain.NodeTypeExternalAction
	NodeTypeFlow           = domain.NodeTypeFlow
	NodeTypeHumanInLoop    = domain.NodeTypeHumanInLoop
	NodeTypeTool           = domain.NodeTypeTool
	NodeTypeMemory         = domain.NodeTypeMemory
)

const (
	SubtypeManual      = domain.SubtypeManual
	SubtypeCron        = domain.SubtypeCron
	SubtypeWebhook     = domain.SubtypeWebhook
	SubtypeIf          = domain.SubtypeIf
	SubtypeSwitch      = domain.SubtypeSwitch
	SubtypeFilter      = domain.SubtypeFilter
	SubtypeLoop        = domain.SubtypeLoop
	SubtypeMerge       = domain.SubtypeMerge
	SubtypeWait        = domain.SubtypeWait
	SubtypeHTTPRequest = domain.SubtypeHTTPRequest
	SubtypeLog         = domain.SubtypeLog
	SubtypeSet         = domain.SubtypeSet
)

type ExecutionStatus = domain.ExecutionStatus

const (
	ExecutionStatusPending   = domain.ExecutionStatusPending
	ExecutionStatusRunning   = domain.ExecutionStatusRunning
	ExecutionStatusCompleted = domain.ExecutionStatusCompleted
	ExecutionStatusFailed    = domain.ExecutionStatusFailed
	ExecutionStatusCancelled = domain.ExecutionStatusCancelled
)

type NodeRunStatus = domain.NodeRunStatus

const (
	NodeRunPending = domain.NodeRunPending
	NodeRunRunning = domain.NodeRunRunning
	NodeRunSuccess = domain.NodeRunSuccess
	NodeRunError   = domain.NodeRunError
	NodeRunSkipped = domain.NodeRunSkipped
)

type ErrorPolicy = domain.ErrorPolicy

const (
	ErrorPolicyContinue = domain.ErrorPolicyContinue
	ErrorPolicyStop     = domain.ErrorPolicyStop
)
