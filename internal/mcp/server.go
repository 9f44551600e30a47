// Package mcp exposes the engine to MCP clients over stdio, so an assistant
// can inspect and control the bot with the same operations the HTTP API
// offers.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"siegebot/internal/core"
	"siegebot/internal/store"
)

// MCPServer represents the MCP server that handles protocol communication.
type MCPServer struct {
	store     *store.Store
	scheduler *core.Scheduler
	logger    *slog.Logger
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(st *store.Store, scheduler *core.Scheduler, logger *slog.Logger) *MCPServer {
	return &MCPServer{
		store:     st,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"siegebot",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("bot_status",
		mcp.WithDescription("Get the scheduler status: running state, task counts, execution totals and uptime"),
	), s.handleStatus)

	mcpServer.AddTool(mcp.NewTool("bot_list_tasks",
		mcp.WithDescription("List every registered task with its state, priority and statistics"),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("bot_task_stats",
		mcp.WithDescription("Get detailed statistics for one task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID, e.g. alliance_help"),
		),
	), s.handleTaskStats)

	mcpServer.AddTool(mcp.NewTool("bot_upcoming",
		mcp.WithDescription("Show the next scheduled executions, soonest first"),
		mcp.WithNumber("count",
			mcp.Description("Number of entries to return, default 10"),
			mcp.Min(1),
			mcp.Max(50),
		),
	), s.handleUpcoming)

	mcpServer.AddTool(mcp.NewTool("bot_run_task",
		mcp.WithDescription("Execute a task immediately, bypassing its schedule. Refused while another task is executing"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("bot_enable_task",
		mcp.WithDescription("Re-enable a disabled task and reset its retry counter"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleEnableTask)

	mcpServer.AddTool(mcp.NewTool("bot_disable_task",
		mcp.WithDescription("Take a task out of scheduling"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleDisableTask)

	mcpServer.AddTool(mcp.NewTool("bot_list_runs",
		mcp.WithDescription("Show recent run history for a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of runs to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRuns)

	s.logger.Info("MCP tools registered", "count", 8)
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.scheduler.Status()
	result := fmt.Sprintf("Running: %t\n", st.Running)
	result += fmt.Sprintf("Tasks: %d (%d enabled)\n", st.TotalTasks, st.EnabledTasks)
	if st.CurrentTask != "" {
		result += fmt.Sprintf("Currently executing: %s\n", st.CurrentTask)
	}
	result += fmt.Sprintf("Executions: %d total, %d ok, %d failed (%.1f%% success)\n",
		st.TotalExecutions, st.SuccessfulExecutions, st.FailedExecutions, st.SuccessRatePercent)
	result += fmt.Sprintf("Uptime: %s\n", st.Uptime)
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.scheduler.AllStatistics()
	if len(stats) == 0 {
		return mcp.NewToolResultText("No tasks registered"), nil
	}
	result := fmt.Sprintf("%d tasks:\n\n", len(stats))
	for _, st := range stats {
		result += fmt.Sprintf("%s (%s)\n", st.ID, st.Name)
		result += fmt.Sprintf("  State: %s, enabled: %t, priority: %d\n", st.State, st.Enabled, st.Priority)
		result += fmt.Sprintf("  Executions: %d (%.1f%% success)\n", st.TotalExecutions, st.SuccessRatePercent)
		if st.NextExecution != nil {
			result += fmt.Sprintf("  Next: %s\n", formatTime(st.NextExecution))
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleTaskStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	st, ok := s.scheduler.TaskStatistics(taskID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}
	result := fmt.Sprintf("Task: %s (%s)\n", st.ID, st.Name)
	result += fmt.Sprintf("State: %s\n", st.State)
	result += fmt.Sprintf("Enabled: %t\n", st.Enabled)
	result += fmt.Sprintf("Priority: %d\n", st.Priority)
	result += fmt.Sprintf("Executions: %d total, %d ok, %d failed\n",
		st.TotalExecutions, st.SuccessfulExecutions, st.FailedExecutions)
	result += fmt.Sprintf("Success rate: %.1f%%\n", st.SuccessRatePercent)
	result += fmt.Sprintf("Average duration: %.1fs\n", st.AverageExecutionSeconds)
	result += fmt.Sprintf("Retry count: %d\n", st.RetryCount)
	result += fmt.Sprintf("Last execution: %s\n", formatTime(st.LastExecution))
	result += fmt.Sprintf("Next execution: %s\n", formatTime(st.NextExecution))
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleUpcoming(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	count := int(mcp.ParseFloat64(request, "count", 10))
	upcoming := s.scheduler.Upcoming(count)
	if len(upcoming) == 0 {
		return mcp.NewToolResultText("Nothing scheduled"), nil
	}
	result := "Upcoming executions:\n"
	for i, u := range upcoming {
		when := fmt.Sprintf("in %.0fs", u.SecondsUntil)
		if u.SecondsUntil < 0 {
			when = fmt.Sprintf("overdue by %.0fs", -u.SecondsUntil)
		}
		result += fmt.Sprintf("  %d. %s (priority %d) at %s (%s)\n",
			i+1, u.ID, u.Priority, u.NextExecution.Format("2006-01-02 15:04:05"), when)
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if _, ok := s.scheduler.TaskStatistics(taskID); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}
	if !s.scheduler.RunNow(taskID) {
		return mcp.NewToolResultError("another task is currently executing, try again later"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task started: %s", taskID)), nil
}

func (s *MCPServer) handleEnableTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if !s.scheduler.Enable(taskID) {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}
	st, _ := s.scheduler.TaskStatistics(taskID)
	return mcp.NewToolResultText(fmt.Sprintf("Task enabled: %s\nNext execution: %s",
		taskID, formatTime(st.NextExecution))), nil
}

func (s *MCPServer) handleDisableTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if !s.scheduler.Disable(taskID) {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task disabled: %s", taskID)), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	runs, err := s.store.ListRuns(ctx, taskID, limit, 0)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return mcp.NewToolResultText("No runs recorded for this task"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("list runs: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("No runs recorded for this task"), nil
	}

	result := fmt.Sprintf("%d runs:\n\n", len(runs))
	for _, r := range runs {
		result += fmt.Sprintf("[%s] %s\n", r.Status, r.ID)
		result += fmt.Sprintf("    Phase: %s, attempt %d\n", r.Phase, r.Attempt)
		result += fmt.Sprintf("    Started: %s (%.1fs)\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.DurationSeconds)
		if r.Error != "" {
			result += fmt.Sprintf("    Error: %s\n", r.Error)
		}
		if r.Disabled {
			result += "    Task was auto-disabled by this failure\n"
		}
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
