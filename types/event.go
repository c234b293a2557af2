package types

// EventType 定义流事件类型。
type EventType string

const (
	// EventStage 阶段进度事件
	EventStage EventType = "stage"
	// EventToken 生成服务产出的增量 token
	EventToken EventType = "token"
	// EventDone 终态：答案已生成并通过置信度检查
	EventDone EventType = "done"
	// EventInsufficient 终态：证据不足，返回固定回退响应
	EventInsufficient EventType = "insufficient"
	// EventIdleTimeout 终态：等待下一个进度单元超时
	EventIdleTimeout EventType = "idle_timeout"
	// EventCancelled 终态：调用方主动取消
	EventCancelled EventType = "cancelled"
	// EventError 终态：不可恢复的管线错误
	EventError EventType = "error"
)

// StageStatus 阶段状态。
type StageStatus string

const (
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Event 是编排器产出、经由流会话转发给调用方的单条事件。
// 事件按生产顺序投递，不允许重排或合并；每个会话恰好发出一个终态事件。
type Event struct {
	Type        EventType       `json:"type"`
	Stage       string          `json:"stage,omitempty"`
	StageStatus StageStatus     `json:"stage_status,omitempty"`
	Token       string          `json:"token,omitempty"`
	Answer      *AnswerEnvelope `json:"answer,omitempty"`
	Confidence  float64         `json:"confidence,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Terminal 报告该事件是否为终态事件。
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventInsufficient, EventIdleTimeout, EventCancelled, EventError:
		return true
	}
	return false
}

// StageEvent 构造一条阶段进度事件。
func StageEvent(stage string, status StageStatus) Event {
	return Event{Type: EventStage, Stage: stage, StageStatus: status}
}

// TokenEvent 构造一条 token 事件。
func TokenEvent(text string) Event {
	return Event{Type: EventToken, Token: text}
}

// DoneEvent 构造答案终态事件。
func DoneEvent(answer *AnswerEnvelope) Event {
	return Event{Type: EventDone, Answer: answer, Confidence: answer.Confidence}
}

// InsufficientEvent 构造证据不足终态事件。
func InsufficientEvent(confidence float64, message string) Event {
	return Event{Type: EventInsufficient, Confidence: confidence, Message: message}
}

// ErrorEvent 构造错误终态事件。
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
