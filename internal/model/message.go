package model

import "encoding/json"

// ActionCreateTicket is the only deferred action the pipeline supports.
const ActionCreateTicket = "create_ticket"

// DistributionMessage is the payload carried on the distribution queue.
// It is self-describing: the distributor never needs state from the
// analyzer beyond what is here and in the alert store.
type DistributionMessage struct {
	AlertID      string          `json:"alert_id"`
	Message      string          `json:"message"`
	Analysis     string          `json:"analysis"`
	Severity     Severity        `json:"severity"`
	Source       string          `json:"source"`
	Model        string          `json:"model"`
	LogGroup     string          `json:"log_group,omitempty"`
	LogStream    string          `json:"log_stream,omitempty"`
	InfraContext json.RawMessage `json:"infrastructure_context,omitempty"`
}

// ActionMessage is the payload carried on the action queue.
type ActionMessage struct {
	AlertID     string `json:"alert_id"`
	Action      string `json:"action"`
	RequestedBy string `json:"requested_by,omitempty"`
}
