package masteragent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spectra-assist/spectra/pkg/models"
	"github.com/spectra-assist/spectra/pkg/services"
)

// QueryError rejects a query before a task exists. Code is one of the
// services.Code* discriminators.
type QueryError struct {
	Code    string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MasterAgent drives queries from submission to a terminal task state.
type MasterAgent struct {
	tasks         TaskStore
	conversations ConversationStore
	agents        AgentStore
	runner        AgentRunner
	planner       ChatClient
	synthesizer   ChatClient
	budgets       Budgets
	queryMaxLen   int
}

// Options configures a MasterAgent.
type Options struct {
	Budgets     Budgets
	QueryMaxLen int
}

// New creates a MasterAgent.
func New(tasks TaskStore, conversations ConversationStore, agents AgentStore,
	runner AgentRunner, planner, synthesizer ChatClient, opts Options) *MasterAgent {
	if opts.Budgets.Task <= 0 {
		opts.Budgets = DefaultBudgets()
	}
	if opts.QueryMaxLen <= 0 {
		opts.QueryMaxLen = 2000
	}
	return &MasterAgent{
		tasks:         tasks,
		conversations: conversations,
		agents:        agents,
		runner:        runner,
		planner:       planner,
		synthesizer:   synthesizer,
		budgets:       opts.Budgets,
		queryMaxLen:   opts.QueryMaxLen,
	}
}

// Submit validates a query, records the task and the user turn, and starts
// the pipeline in the background. The returned task is in pending state;
// callers poll GetTask until it is terminal.
func (m *MasterAgent) Submit(ctx context.Context, userID, query string) (*models.Task, error) {
	if userID == "" {
		return nil, &QueryError{Code: services.CodeMissingUserID, Message: "userId is required"}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &QueryError{Code: services.CodeInvalidQuery, Message: "query must not be empty"}
	}
	if utf8.RuneCountInString(query) > m.queryMaxLen {
		return nil, &QueryError{
			Code:    services.CodeQueryTooLong,
			Message: fmt.Sprintf("query exceeds %d characters", m.queryMaxLen),
		}
	}

	conv, err := m.conversations.GetOrCreateActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation: %w", err)
	}

	task, err := m.tasks.Create(ctx, userID, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := m.conversations.AppendTurn(ctx, conv.ConversationID, models.RoleUser, query, task.TaskID); err != nil {
		slog.Error("Failed to record user turn",
			"task_id", task.TaskID, "error", err)
	}

	go m.run(task, conv.ConversationID)

	return task, nil
}

// GetTask retrieves a task scoped to its owner.
func (m *MasterAgent) GetTask(ctx context.Context, taskID, userID string) (*models.Task, error) {
	return m.tasks.Get(ctx, taskID, userID)
}

// run executes the pipeline for one task under the overall budget. It always
// leaves the task terminal and always records an assistant turn.
func (m *MasterAgent) run(task *models.Task, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.budgets.Task)
	defer cancel()

	started := time.Now()
	result, runErr := m.pipeline(ctx, task, conversationID)

	if runErr != nil {
		code, message := errorSurface(runErr)
		errResult := makeResult(message, message)
		// The pipeline context is often past its deadline at this point;
		// the error write needs its own so the task cannot strand
		// non-terminal.
		errCtx, errCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := m.tasks.SetError(errCtx, task.TaskID, code, runErr.Error(), &errResult); err != nil {
			slog.Error("Failed to record task error",
				"task_id", task.TaskID, "error", err)
		}
		errCancel()
		result = errResult
		slog.Warn("Task failed",
			"task_id", task.TaskID, "code", code,
			"duration", time.Since(started), "error", runErr)
	} else {
		slog.Info("Task done",
			"task_id", task.TaskID, "duration", time.Since(started))
	}

	// The assistant turn mirrors whatever the glasses showed, success or not.
	appendCtx, appendCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer appendCancel()
	if err := m.conversations.AppendTurn(appendCtx, conversationID,
		models.RoleAssistant, result.GlassesDisplay, task.TaskID); err != nil {
		slog.Error("Failed to record assistant turn",
			"task_id", task.TaskID, "error", err)
	}
}

// pipeline walks a task pending → deciding → (spawning → waiting →
// synthesizing) → done. Any returned error sends the task to the error
// surface in run.
func (m *MasterAgent) pipeline(ctx context.Context, task *models.Task, conversationID string) (models.TaskResult, error) {
	if _, err := m.tasks.SetStatus(ctx, task.TaskID, models.TaskStatusDeciding); err != nil {
		return models.TaskResult{}, err
	}

	history, err := m.conversations.HistoryForPlanner(ctx, conversationID)
	if err != nil {
		// Fall back to an empty history rather than failing the task.
		history = "(no prior conversation)"
	}

	tools := &toolbox{
		userID:        task.UserID,
		tasks:         m.tasks,
		conversations: m.conversations,
		agents:        m.agents,
		runner:        m.runner,
	}

	d, err := m.plan(ctx, tools, history, task.Query)
	if err != nil {
		return models.TaskResult{}, err
	}

	switch d.Decision {
	case models.DecisionDirectResponse, models.DecisionClarifyingQuestion:
		glasses, webview := d.surfaces()
		return m.finishDirect(ctx, task, d.Decision, glasses, webview)
	case models.DecisionSpawnAgent:
		return m.runAgentPath(ctx, task, d)
	}
	return models.TaskResult{}, fmt.Errorf("unknown decision %q", d.Decision)
}

// finishDirect completes a task whose answer needed no agent.
func (m *MasterAgent) finishDirect(ctx context.Context, task *models.Task, d models.DecisionType, glasses, webview string) (models.TaskResult, error) {
	if _, err := m.tasks.SetDecision(ctx, task.TaskID, models.TaskStatusSynthesizing, d); err != nil {
		return models.TaskResult{}, err
	}
	result := makeResult(glasses, webview)
	if _, err := m.tasks.SetResult(ctx, task.TaskID, result); err != nil {
		return models.TaskResult{}, err
	}
	return result, nil
}

// runAgentPath spawns a terminal agent, waits for its outcome within the
// remaining budget and synthesizes the dual-surface answer.
func (m *MasterAgent) runAgentPath(ctx context.Context, task *models.Task, d *decision) (models.TaskResult, error) {
	if _, err := m.tasks.SetDecision(ctx, task.TaskID, models.TaskStatusSpawning, d.Decision); err != nil {
		return models.TaskResult{}, err
	}

	agentID, err := m.runner.SpawnAgent(ctx, task.UserID, d.Goal, d.WorkingDirectory, models.SpawnOptions{})
	if err != nil {
		return models.TaskResult{}, err
	}
	if _, err := m.tasks.SetSpawnedAgent(ctx, task.TaskID, agentID); err != nil {
		return models.TaskResult{}, err
	}

	// Leave room for synthesis inside the overall budget.
	wait := m.budgets.Task
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline) - m.budgets.Synthesis
	}
	if wait <= 0 {
		return models.TaskResult{}, services.ErrTimeout
	}

	agent, err := m.runner.WaitForCompletion(ctx, agentID, wait)
	if err != nil {
		return models.TaskResult{}, err
	}

	if _, err := m.tasks.SetStatus(ctx, task.TaskID, models.TaskStatusSynthesizing); err != nil {
		return models.TaskResult{}, err
	}

	result, err := m.synthesize(ctx, task.Query, agent)
	if err != nil {
		return models.TaskResult{}, err
	}
	if _, err := m.tasks.SetResult(ctx, task.TaskID, result); err != nil {
		return models.TaskResult{}, err
	}
	return result, nil
}

// errorSurface maps a pipeline failure to its code and the user-facing
// message both surfaces show.
func errorSurface(err error) (code, message string) {
	code = services.CodeFor(err)
	switch {
	case errors.Is(err, services.ErrDaemonUnavailable):
		message = "Your computer isn't reachable right now. Make sure the desktop app is running."
	case errors.Is(err, services.ErrQuotaExceeded):
		message = "Too many agents are already running. Wait for one to finish and try again."
	case errors.Is(err, services.ErrTimeout):
		message = "That took too long to finish. The work may still be running on your computer."
	case errors.Is(err, services.ErrCancelled):
		message = "The request was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		code = services.CodeTimeout
		message = "That took too long to finish. The work may still be running on your computer."
	default:
		message = "Something went wrong handling that request. Please try again."
	}
	return code, message
}
