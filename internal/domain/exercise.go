package domain

import "time"

// Receipt is the subset of a mined transaction receipt the service keeps.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Success     bool   `json:"success"`
}

// ExerciseStatus tracks an exercise attempt.
type ExerciseStatus string

const (
	ExerciseStatusSubmitting ExerciseStatus = "submitting"
	ExerciseStatusSucceeded  ExerciseStatus = "succeeded"
	ExerciseStatusFailed     ExerciseStatus = "failed"
)

// ExerciseAttempt is one user-triggered exercise call.
type ExerciseAttempt struct {
	ID         string         `json:"id"`
	Market     string         `json:"market"`
	Account    string         `json:"account"`
	GasLimit   uint64         `json:"gas_limit"`
	Status     ExerciseStatus `json:"status"`
	TxHash     string         `json:"tx_hash,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
