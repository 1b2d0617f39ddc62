package models

import "time"

// Strategy enumerates remediation approaches.
type Strategy string

const (
	StrategyRollback           Strategy = "rollback"
	StrategyIncrementalFix     Strategy = "incremental_fix"
	StrategyRevalidation       Strategy = "revalidation"
	StrategyManualIntervention Strategy = "manual_intervention"
)

// Well-known resource names expected in a recovery context.
const (
	ResourceKnowledgeMap      = "knowledge_map"
	ResourceValidationHistory = "validation_history"
	ResourceValidationSystem  = "validation_system"
)

// RecoveryAction is a single prioritised remediation decision.
type RecoveryAction struct {
	Strategy          Strategy       `json:"strategy"`
	Description       string         `json:"description"`
	Priority          int            `json:"priority"`
	EstimatedImpact   float64        `json:"estimated_impact"`
	RequiredResources []string       `json:"required_resources"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// ExecutionStatus tracks the lifecycle of a RecoveryExecution.
type ExecutionStatus string

const (
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionError      ExecutionStatus = "error"
)

// RecoveryExecution records one in-flight or finished application of an action.
type RecoveryExecution struct {
	ID        string          `json:"id"`
	Action    RecoveryAction  `json:"action"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time,omitempty"`
	Status    ExecutionStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// Finished reports whether the execution has an end time.
func (e RecoveryExecution) Finished() bool {
	return !e.EndTime.IsZero()
}

// Succeeded reports whether the execution completed successfully.
func (e RecoveryExecution) Succeeded() bool {
	return e.Status == ExecutionCompleted
}

// Duration returns the elapsed handling time, or zero when still running.
func (e RecoveryExecution) Duration() time.Duration {
	if !e.Finished() {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}
