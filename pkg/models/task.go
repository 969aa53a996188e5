package models

import "time"

// TaskStatus tracks a master-agent task through its pipeline.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusDeciding     TaskStatus = "deciding"
	TaskStatusSpawning     TaskStatus = "spawning"
	TaskStatusWaiting      TaskStatus = "waiting"
	TaskStatusSynthesizing TaskStatus = "synthesizing"
	TaskStatusDone         TaskStatus = "done"
	TaskStatusError        TaskStatus = "error"
)

// Terminal reports whether the task status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusError
}

// DecisionType is the planner's classification of a user query.
type DecisionType string

const (
	DecisionDirectResponse     DecisionType = "direct_response"
	DecisionClarifyingQuestion DecisionType = "clarifying_question"
	DecisionSpawnAgent         DecisionType = "spawn_agent"
)

// TaskResult is the dual-surface answer every terminal decision produces.
// GlassesDisplay is plain text, at most 100 Unicode scalar values, no
// newlines; WebviewContent is markdown of unlimited length.
type TaskResult struct {
	GlassesDisplay string `bson:"glassesDisplay" json:"glassesDisplay"`
	WebviewContent string `bson:"webviewContent" json:"webviewContent"`
}

// Task is the user-visible unit of work tracked in persistence.
type Task struct {
	TaskID         string       `bson:"taskId" json:"taskId"`
	UserID         string       `bson:"userId" json:"userId"`
	Query          string       `bson:"query" json:"query"`
	Status         TaskStatus   `bson:"status" json:"status"`
	Decision       DecisionType `bson:"decision,omitempty" json:"decision,omitempty"`
	SpawnedAgentID string       `bson:"spawnedAgentId,omitempty" json:"spawnedAgentId,omitempty"`
	Result         *TaskResult  `bson:"result,omitempty" json:"result,omitempty"`
	ErrorCode      string       `bson:"errorCode,omitempty" json:"errorCode,omitempty"`
	ErrorMessage   string       `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt      time.Time    `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time    `bson:"updatedAt" json:"updatedAt"`
	CompletedAt    *time.Time   `bson:"completedAt,omitempty" json:"completedAt,omitempty"`

	Version int64 `bson:"version" json:"-"`
}
