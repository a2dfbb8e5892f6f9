package notify

import "context"

type TaskFinishedEvent struct {
	At        int64  `json:"atMs"`
	TaskID    string `json:"taskId"`
	TaskName  string `json:"taskName,omitempty"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Stopped   int    `json:"stopped"`
	LastError string `json:"lastError,omitempty"`
	ElapsedMs int64  `json:"elapsedMs"`
}

type Notifier interface {
	NotifyTaskFinished(ctx context.Context, evt TaskFinishedEvent)
}
