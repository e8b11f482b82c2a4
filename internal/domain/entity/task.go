// Package entity 定义领域实体
package entity

// TaskState 外部生成任务的内部统一状态
// 图片接口（INIT/WAIT/RUNNING/FAILED/SUCCESS）与配音接口
// （Running/Success/Failure）各有一套词表，在客户端边界立即归一，
// 内部逻辑只认这一种。
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Terminal 是否为终态
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// TaskStateFromImage 归一化图片任务状态
func TaskStateFromImage(raw string) TaskState {
	switch raw {
	case "SUCCESS":
		return TaskSucceeded
	case "FAILED":
		return TaskFailed
	case "RUNNING":
		return TaskRunning
	case "INIT", "WAIT":
		return TaskPending
	default:
		return TaskRunning
	}
}

// TaskStateFromSpeech 归一化配音任务状态
func TaskStateFromSpeech(raw string) TaskState {
	switch raw {
	case "Success":
		return TaskSucceeded
	case "Failure":
		return TaskFailed
	case "Running":
		return TaskRunning
	default:
		return TaskRunning
	}
}

// GenerationTask 外部生成任务快照，仅由轮询循环更新
type GenerationTask struct {
	TaskID    string    `json:"task_id"`
	State     TaskState `json:"state"`
	Progress  int       `json:"progress"`
	ResultURL string    `json:"result_url,omitempty"`
	Error     string    `json:"error,omitempty"`
}
