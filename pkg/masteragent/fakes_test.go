package masteragent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spectra-assist/spectra/pkg/llm"
	"github.com/spectra-assist/spectra/pkg/models"
	"github.com/spectra-assist/spectra/pkg/registry"
	"github.com/spectra-assist/spectra/pkg/services"
)

// memTaskStore is an in-memory TaskStore with terminal-state enforcement.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]*models.Task)}
}

func (m *memTaskStore) Create(_ context.Context, userID, query string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := &models.Task{
		TaskID: uuid.New().String(), UserID: userID, Query: query,
		Status: models.TaskStatusPending, CreatedAt: time.Now(), Version: 1,
	}
	m.tasks[task.TaskID] = task
	return cloneTask(task), nil
}

func (m *memTaskStore) Get(_ context.Context, taskID, userID string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, services.ErrNotFound
	}
	return cloneTask(task), nil
}

func (m *memTaskStore) ListRecent(_ context.Context, userID string, limit int64) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Task
	for _, task := range m.tasks {
		if task.UserID == userID && int64(len(out)) < limit {
			out = append(out, *cloneTask(task))
		}
	}
	return out, nil
}

func (m *memTaskStore) transition(taskID string, status models.TaskStatus, fn func(*models.Task)) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, services.ErrNotFound
	}
	if task.Status.Terminal() {
		return nil, services.ErrTerminalState
	}
	task.Status = status
	if status.Terminal() {
		now := time.Now()
		task.CompletedAt = &now
	}
	if fn != nil {
		fn(task)
	}
	task.Version++
	return cloneTask(task), nil
}

func (m *memTaskStore) SetStatus(_ context.Context, taskID string, status models.TaskStatus) (*models.Task, error) {
	return m.transition(taskID, status, nil)
}

func (m *memTaskStore) SetDecision(_ context.Context, taskID string, status models.TaskStatus, decision models.DecisionType) (*models.Task, error) {
	return m.transition(taskID, status, func(t *models.Task) { t.Decision = decision })
}

func (m *memTaskStore) SetSpawnedAgent(_ context.Context, taskID, agentID string) (*models.Task, error) {
	return m.transition(taskID, models.TaskStatusWaiting, func(t *models.Task) { t.SpawnedAgentID = agentID })
}

func (m *memTaskStore) SetResult(_ context.Context, taskID string, result models.TaskResult) (*models.Task, error) {
	return m.transition(taskID, models.TaskStatusDone, func(t *models.Task) { t.Result = &result })
}

func (m *memTaskStore) SetError(_ context.Context, taskID, code, message string, result *models.TaskResult) (*models.Task, error) {
	return m.transition(taskID, models.TaskStatusError, func(t *models.Task) {
		t.ErrorCode = code
		t.ErrorMessage = message
		t.Result = result
	})
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	return &c
}

// memConvStore is an in-memory ConversationStore.
type memConvStore struct {
	mu    sync.Mutex
	convs map[string]*models.Conversation
}

func newMemConvStore() *memConvStore {
	return &memConvStore{convs: make(map[string]*models.Conversation)}
}

func (m *memConvStore) GetOrCreateActive(_ context.Context, userID string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.UserID == userID {
			clone := *c
			return &clone, nil
		}
	}
	c := &models.Conversation{
		ConversationID: uuid.New().String(), UserID: userID,
		CreatedAt: time.Now(), LastActivityAt: time.Now(),
	}
	m.convs[c.ConversationID] = c
	clone := *c
	return &clone, nil
}

func (m *memConvStore) AppendTurn(_ context.Context, conversationID string, role models.TurnRole, content, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return services.ErrNotFound
	}
	c.Turns = append(c.Turns, models.Turn{
		Role: role, Content: content, Timestamp: time.Now(), AssociatedTaskID: taskID,
	})
	return nil
}

func (m *memConvStore) HistoryForPlanner(_ context.Context, conversationID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return "", services.ErrNotFound
	}
	return services.FormatTurns(c.RecentTurns(models.PlannerWindow)), nil
}

func (m *memConvStore) turns(conversationID string) []models.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return nil
	}
	return append([]models.Turn(nil), c.Turns...)
}

// memAgents is a trivial AgentStore for toolbox tests.
type memAgents struct {
	mu     sync.Mutex
	agents map[string]*models.SubAgent
}

func newMemAgents() *memAgents {
	return &memAgents{agents: make(map[string]*models.SubAgent)}
}

func (m *memAgents) add(a *models.SubAgent) {
	m.mu.Lock()
	m.agents[a.AgentID] = a
	m.mu.Unlock()
}

func (m *memAgents) GetForUser(_ context.Context, agentID, userID string) (*models.SubAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, services.ErrNotFound
	}
	if a.UserID != userID {
		return nil, services.ErrForbidden
	}
	clone := *a
	return &clone, nil
}

func (m *memAgents) ListActive(_ context.Context, userID string) ([]models.SubAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SubAgent
	for _, a := range m.agents {
		if a.UserID == userID && !a.Status.Terminal() {
			out = append(out, *a)
		}
	}
	return out, nil
}

// fakeRunner scripts the daemon control plane.
type fakeRunner struct {
	spawnErr   error
	waitErr    error
	finalAgent *models.SubAgent
	status     registry.DaemonStatus

	mu       sync.Mutex
	spawned  []string
	waitedID string
}

func (f *fakeRunner) SpawnAgent(_ context.Context, userID, goal, wd string, _ models.SpawnOptions) (string, error) {
	if f.spawnErr != nil {
		return "", f.spawnErr
	}
	id := uuid.New().String()
	f.mu.Lock()
	f.spawned = append(f.spawned, goal)
	f.mu.Unlock()
	if f.finalAgent != nil {
		f.finalAgent.AgentID = id
		f.finalAgent.UserID = userID
		f.finalAgent.Goal = goal
		f.finalAgent.WorkingDirectory = wd
	}
	return id, nil
}

func (f *fakeRunner) WaitForCompletion(_ context.Context, agentID string, _ time.Duration) (*models.SubAgent, error) {
	f.mu.Lock()
	f.waitedID = agentID
	f.mu.Unlock()
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return f.finalAgent, nil
}

func (f *fakeRunner) DaemonStatus(string) registry.DaemonStatus {
	return f.status
}

// fakeChat replays scripted responses in order.
type fakeChat struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	errs      []error
	requests  []llm.ChatRequest
}

func (f *fakeChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return nil, fmt.Errorf("fakeChat: no scripted response for call %d", i)
	}
	return f.responses[i], nil
}

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{Text: text, StopReason: "end_turn"}
}

func toolResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{ToolCalls: calls, StopReason: "tool_use"}
}

var (
	_ TaskStore         = (*memTaskStore)(nil)
	_ ConversationStore = (*memConvStore)(nil)
	_ AgentStore        = (*memAgents)(nil)
	_ AgentRunner       = (*fakeRunner)(nil)
	_ ChatClient        = (*fakeChat)(nil)
)
