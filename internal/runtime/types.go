package runtime

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentCode  AttachmentKind = "code"
)

type Attachment struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Kind     AttachmentKind `json:"type"`
	MimeType string         `json:"mimeType"`
	URL      string         `json:"url,omitempty"`
	Content  string         `json:"content,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Request is one user turn handed to the Dispatcher.
type Request struct {
	UserRequest string       `json:"userRequest"`
	History     []Message    `json:"history,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	// Route optionally pins the plan to explicit agents, e.g. "ui+general>analysis".
	Route string `json:"route,omitempty"`
}

// AgentInput is the reduced view of a Request that a single agent receives.
type AgentInput struct {
	UserRequest     string       `json:"userRequest"`
	RelevantHistory []Message    `json:"relevantHistory,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

type OutputMeta struct {
	TokensUsed     int           `json:"tokensUsed"`
	Cached         bool          `json:"cached"`
	Duration       time.Duration `json:"duration"`
	CapabilityUsed string        `json:"skillUsed,omitempty"`
}

type Output struct {
	Content string     `json:"content"`
	Code    string     `json:"code,omitempty"`
	Meta    OutputMeta `json:"metadata"`
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

type Task struct {
	ID           string     `json:"id"`
	AgentID      string     `json:"agentId"`
	Input        AgentInput `json:"input"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Output       *Output    `json:"output,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  time.Time  `json:"completedAt"`
}

func (t *Task) snapshot() TaskSnapshot {
	return TaskSnapshot{ID: t.ID, AgentID: t.AgentID, Status: t.Status, StartedAt: t.StartedAt}
}

// TaskSnapshot is the immutable view of a task carried by progress events.
type TaskSnapshot struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agentId"`
	Status    TaskStatus `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
}

type ExecutionPlan struct {
	Tasks           []*Task
	Groups          [][]*Task
	EstimatedTokens int
	Route           string

	queue *TaskQueue
}

type Status string

const (
	StatusPlanning    Status = "planning"
	StatusExecuting   Status = "executing"
	StatusAggregating Status = "aggregating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

type Progress struct {
	RequestID      string         `json:"requestId"`
	TotalTasks     int            `json:"totalTasks"`
	CompletedTasks int            `json:"completedTasks"`
	RunningTasks   []TaskSnapshot `json:"runningTasks"`
	Status         Status         `json:"status"`
}

type ProgressFunc func(Progress)

type ResponseMeta struct {
	TotalTokensUsed int           `json:"totalTokensUsed"`
	CachedResults   int           `json:"cachedResults"`
	TotalDuration   time.Duration `json:"totalDuration"`
	TasksExecuted   int           `json:"tasksExecuted"`
	FailedTasks     int           `json:"failedTasks"`
}

type Response struct {
	RequestID string       `json:"requestId"`
	Content   string       `json:"content"`
	Code      string       `json:"code,omitempty"`
	Tasks     []Task       `json:"tasks"`
	Meta      ResponseMeta `json:"metadata"`
}

type CacheStats struct {
	Size    int
	MaxSize int
	MaxAge  time.Duration
	Hits    uint64
	Misses  uint64
}
