package model

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusStopped   TaskStatus = "stopped"
)

func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusStopped:
		return true
	default:
		return false
	}
}

// ScriptRef names a registered script. Scripts run in slice order.
type ScriptRef struct {
	Name string `json:"name" yaml:"name"`
	Ref  string `json:"ref" yaml:"ref"`
}

type Task struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Scripts     []ScriptRef `json:"scripts" yaml:"scripts"`
	GroupIDs    []string    `json:"groupIds" yaml:"groupIds"`
	ThreadCount int         `json:"threadCount" yaml:"threadCount"`
	Status      TaskStatus  `json:"status" yaml:"status"`
	Owner       string      `json:"owner,omitempty" yaml:"owner"`
	CreatedAt   time.Time   `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time   `json:"updatedAt" yaml:"-"`
}

// TaskState is the live progress snapshot published while a task runs.
type TaskState struct {
	TaskID      string     `json:"taskId"`
	Status      TaskStatus `json:"status"`
	Total       int        `json:"total"`
	Started     int        `json:"started"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Stopped     int        `json:"stopped"`
	InFlight    int        `json:"inFlight"`
	LastError   string     `json:"lastError,omitempty"`
	StartedAtMs int64      `json:"startedAtMs,omitempty"`
	EndedAtMs   int64      `json:"endedAtMs,omitempty"`
}

type EngineState struct {
	Tasks []TaskState `json:"tasks"`
}
