package domain

import (
	"time"
)

type NodeType string

const (
	NodeTypeTrigger        NodeType = "TRIGGER"
	NodeTypeAIAgent        NodeType = "AI_AGENT"
	NodeTypeAction         NodeType = "ACTION"
	NodeTypeExternalAction NodeType = "EXTERNAL_ACTION"
	NodeTypeFlow           NodeType = "FLOW"
	NodeTypeHumanInLoop    NodeType = "HUMAN_IN_THE_LOOP"
	NodeTypeTool           NodeType = "TOOL"
	NodeTypeMemory         NodeType = "MEMORY"
)

const (
	SubtypeManual  = "MANUAL"
	SubtypeCron    = "CRON"
	SubtypeWebhook = "WEBHOOK"

	SubtypeIf     = "IF"
	SubtypeSwitch = "SWITCH"
	SubtypeFilter = "FILTER"
	SubtypeLoop   = "LOOP"
	SubtypeMerge  = "MERGE"
	SubtypeWait   = "WAIT"

	SubtypeHTTPRequest = "HTTP_REQUEST"
	SubtypeLog         = "LOG"
	SubtypeSet         = "SET"

	SubtypeGenericProvider = "GENERIC"
	SubtypeChat            = "CHAT"
	SubtypeKeyValue        = "KEY_VALUE"
	SubtypeFunction        = "FUNCTION"
	SubtypeApproval        = "APPROVAL"
)

// PortMain is the default port name for connections that do not name one.
const PortMain = "main"

const (
	PortTrue    = "true"
	PortFalse   = "false"
	PortDefault = "default"
	PortItem    = "item"
)

type ErrorPolicy string

const (
	ErrorPolicyContinue ErrorPolicy = "continue"
	ErrorPolicyStop     ErrorPolicy = "stop"
)

type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
}

type Settings struct {
	Timeout           time.Duration `json:"timeout"`
	ErrorPolicy       ErrorPolicy   `json:"error_policy"`
	ParallelExecution bool          `json:"parallel_execution"`
	RetryPolicy       RetryPolicy   `json:"retry_policy"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RawNode is a node as authored. ID may be empty; the loader assigns one.
type RawNode struct {
	ID         string                 `json:"id,omitempty"`
	Name       string                 `json:"name"`
	Type       NodeType               `json:"type"`
	Subtype    string                 `json:"subtype"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Position   *Position              `json:"position,omitempty"`
	Critical   bool                   `json:"critical,omitempty"`
	Retry      *RetryPolicy           `json:"retry,omitempty"`
}

// ConnectionTarget references a downstream node. Node may be a node ID or a
// node name in the raw form; the resolver rewrites it to an ID.
type ConnectionTarget struct {
	Node  string `json:"node"`
	Port  string `json:"type,omitempty"`
	Index int    `json:"index,omitempty"`
}

// RawConnections maps a source reference (name or ID) to its output ports,
// each port listing the targets it fans out to.
type RawConnections map[string]map[string][]ConnectionTarget

// RawWorkflow is a workflow definition as received from the planner or API.
// Connection references may use node names; nothing downstream of the
// resolver ever sees this form.
type RawWorkflow struct {
	ID          string                 `json:"id,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Nodes       []RawNode              `json:"nodes"`
	Connections RawConnections         `json:"connections"`
	Settings    Settings               `json:"settings"`
	Tags        []string               `json:"tags,omitempty"`
	StaticData  map[string]interface{} `json:"static_data,omitempty"`
}

// Node is a resolved node: ID is guaranteed present and unique.
type Node struct {
	ID         string
	Name       string
	Type       NodeType
	Subtype    string
	Parameters map[string]interface{}
	Critical   bool
	Retry      *RetryPolicy
}

func (n *Node) IsTrigger() bool {
	return n.Type == NodeTypeTrigger
}

func (n *Node) IsFlow(subtype string) bool {
	return n.Type == NodeTypeFlow && n.Subtype == subtype
}

// Target is a resolved connection endpoint: NodeID always refers to a node
// declared in the same workflow.
type Target struct {
	NodeID string
	Port   string
	Index  int
}

// ResolvedWorkflow is the only workflow form the coordinator operates on.
// All connection references are node IDs; the structure is immutable once
// built and safe for unsynchronized concurrent reads.
type ResolvedWorkflow struct {
	ID       string
	Name     string
	UserID   string
	Settings Settings

	Nodes map[string]*Node
	// Order preserves node declaration order for deterministic iteration.
	Order []string
	// Adjacency maps source node ID -> output port -> targets.
	Adjacency map[string]map[string][]Target
	// Inbound maps target node ID -> input port -> number of inbound edges.
	Inbound map[string]map[string]int

	TriggerIDs []string
	Warnings   []string
	StaticData map[string]interface{}
}

func (w *ResolvedWorkflow) Node(id string) *Node {
	return w.Nodes[id]
}

// Targets returns the resolved fan-out for one output port of a node.
func (w *ResolvedWorkflow) Targets(nodeID, port string) []Target {
	ports, ok := w.Adjacency[nodeID]
	if !ok {
		return nil
	}
	return ports[port]
}

// InboundCount returns the number of inbound edges into a node's input port.
func (w *ResolvedWorkflow) InboundCount(nodeID, port string) int {
	ports, ok := w.Inbound[nodeID]
	if !ok {
		return 0
	}
	return ports[port]
}
