package model

import "time"

// ExecutionRecord is the audit row for one (task, account) attempt.
type ExecutionRecord struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"taskId"`
	AccountID    string     `json:"accountId"`
	Status       TaskStatus `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	Log          string     `json:"log"`
	ErrorCode    string     `json:"errorCode,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}
