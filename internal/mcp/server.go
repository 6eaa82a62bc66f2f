package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"dialcron/internal/core"
)

const serverVersion = "1.0.0"

// MCPServer exposes automation management as MCP tools.
type MCPServer struct {
	service *core.Service
	logger  *slog.Logger
	srv     *server.MCPServer
}

// NewMCPServer creates the server and registers its tools.
func NewMCPServer(service *core.Service, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		service: service,
		logger:  logger.With("component", "mcp"),
		srv: server.NewMCPServer(
			"dialcron",
			serverVersion,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// ServeStdio serves MCP over stdin/stdout until ctx is done or stdin closes.
func (s *MCPServer) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	stdio := server.NewStdioServer(s.srv)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("MCP server starting on stdio")
	err := stdio.Listen(ctx, stdin, stdout)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HTTPHandler serves MCP over the streamable HTTP transport.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.srv)
}

func (s *MCPServer) registerTools() {
	s.srv.AddTool(mcp.NewTool("automation_list",
		mcp.WithDescription("List call automations, newest first"),
		mcp.WithString("user_id",
			mcp.Description("Only list automations owned by this user"),
		),
	), s.handleList)

	s.srv.AddTool(mcp.NewTool("automation_get",
		mcp.WithDescription("Show one call automation"),
		mcp.WithString("automation_id",
			mcp.Required(),
			mcp.Description("Automation ID"),
		),
	), s.handleGet)

	s.srv.AddTool(mcp.NewTool("automation_create",
		mcp.WithDescription("Create a call automation that dials matching contacts on a daily, weekly or one-off schedule"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Owner of the automation and its contacts"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Display name"),
		),
		mcp.WithString("agent_ref",
			mcp.Required(),
			mcp.Description("Agent that conducts the calls"),
		),
		mcp.WithString("target_statuses",
			mcp.Required(),
			mcp.Description("Comma-separated contact statuses to call: new, contacted, qualified, converted, rejected"),
		),
		mcp.WithString("frequency",
			mcp.Required(),
			mcp.Description("How often to run"),
			mcp.Enum(string(core.FrequencyDaily), string(core.FrequencyWeekly), string(core.FrequencyOnce)),
		),
		mcp.WithString("run_time",
			mcp.Required(),
			mcp.Description("Time of day in 24h HH:MM, e.g. 09:00"),
		),
		mcp.WithString("run_days",
			mcp.Description("Comma-separated weekdays for weekly automations, e.g. mon,wed,fri"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone, e.g. America/New_York; defaults to the server timezone"),
		),
		mcp.WithNumber("max_calls_per_run",
			mcp.Required(),
			mcp.Description("Upper bound on calls placed per run"),
			mcp.Min(1),
			mcp.Max(core.MaxCallsPerRunLimit),
		),
		mcp.WithBoolean("enabled",
			mcp.Description("Whether the automation is scheduled, default true"),
		),
	), s.handleCreate)

	s.srv.AddTool(mcp.NewTool("automation_update",
		mcp.WithDescription("Update a call automation; omitted fields are unchanged"),
		mcp.WithString("automation_id",
			mcp.Required(),
			mcp.Description("Automation ID"),
		),
		mcp.WithString("name", mcp.Description("New display name")),
		mcp.WithString("agent_ref", mcp.Description("New agent")),
		mcp.WithString("target_statuses", mcp.Description("Comma-separated contact statuses")),
		mcp.WithString("frequency",
			mcp.Description("New frequency"),
			mcp.Enum(string(core.FrequencyDaily), string(core.FrequencyWeekly), string(core.FrequencyOnce)),
		),
		mcp.WithString("run_time", mcp.Description("New time of day, HH:MM")),
		mcp.WithString("run_days", mcp.Description("Comma-separated weekdays")),
		mcp.WithString("timezone", mcp.Description("IANA timezone")),
		mcp.WithNumber("max_calls_per_run",
			mcp.Description("Upper bound on calls per run"),
			mcp.Min(1),
			mcp.Max(core.MaxCallsPerRunLimit),
		),
		mcp.WithBoolean("enabled", mcp.Description("Enable or disable scheduling")),
	), s.handleUpdate)

	s.srv.AddTool(mcp.NewTool("automation_delete",
		mcp.WithDescription("Delete a call automation and its run history"),
		mcp.WithString("automation_id",
			mcp.Required(),
			mcp.Description("Automation ID"),
		),
	), s.handleDelete)

	s.srv.AddTool(mcp.NewTool("automation_run_now",
		mcp.WithDescription("Start a run immediately, ignoring the schedule"),
		mcp.WithString("automation_id",
			mcp.Required(),
			mcp.Description("Automation ID"),
		),
	), s.handleRunNow)

	s.srv.AddTool(mcp.NewTool("automation_list_runs",
		mcp.WithDescription("Show an automation's run history"),
		mcp.WithString("automation_id",
			mcp.Required(),
			mcp.Description("Automation ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of runs to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRuns)

	s.srv.AddTool(mcp.NewTool("automation_preview",
		mcp.WithDescription("Preview an automation's upcoming fire times"),
		mcp.WithString("automation_id",
			mcp.Required(),
			mcp.Description("Automation ID"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handlePreview)

	s.srv.AddTool(mcp.NewTool("scheduler_tick",
		mcp.WithDescription("Run the scheduler once now and execute every due automation"),
	), s.handleTick)

	s.logger.Debug("MCP tools registered", "count", 9)
}

func (s *MCPServer) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	automations, err := s.service.ListAutomations(ctx, mcp.ParseString(request, "user_id", ""))
	if err != nil {
		return toolError("list automations", err), nil
	}
	if len(automations) == 0 {
		return mcp.NewToolResultText("No automations found"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d automations:\n\n", len(automations))
	for _, a := range automations {
		state := "enabled"
		if !a.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%s  %s (%s)\n", a.ID, a.Name, state)
		fmt.Fprintf(&b, "  Schedule: %s\n", describeSchedule(a))
		fmt.Fprintf(&b, "  Next run: %s\n\n", formatTime(a.NextRunAt))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := s.service.GetAutomation(ctx, mcp.ParseString(request, "automation_id", ""))
	if err != nil {
		return toolError("get automation", err), nil
	}
	return mcp.NewToolResultText(describeAutomation(a)), nil
}

func (s *MCPServer) handleCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runTime, err := core.ParseRunTime(mcp.ParseString(request, "run_time", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	runDays, err := core.ParseWeekdays(splitList(mcp.ParseString(request, "run_days", "")))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	a, err := s.service.CreateAutomation(ctx, core.AutomationConfig{
		UserID:         mcp.ParseString(request, "user_id", ""),
		Name:           mcp.ParseString(request, "name", ""),
		Enabled:        mcp.ParseBoolean(request, "enabled", true),
		AgentRef:       mcp.ParseString(request, "agent_ref", ""),
		TargetStatuses: core.ContactStatuses(splitList(mcp.ParseString(request, "target_statuses", ""))),
		Frequency:      core.Frequency(strings.ToLower(mcp.ParseString(request, "frequency", ""))),
		RunDays:        runDays,
		RunTime:        runTime,
		Timezone:       mcp.ParseString(request, "timezone", ""),
		MaxCallsPerRun: int(mcp.ParseFloat64(request, "max_calls_per_run", 0)),
	})
	if err != nil {
		return toolError("create automation", err), nil
	}
	return mcp.NewToolResultText("Automation created\n" + describeAutomation(a)), nil
}

func (s *MCPServer) handleUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	has := func(key string) bool {
		_, ok := args[key]
		return ok
	}

	var patch core.AutomationPatch
	if has("name") {
		v := mcp.ParseString(request, "name", "")
		patch.Name = &v
	}
	if has("agent_ref") {
		v := mcp.ParseString(request, "agent_ref", "")
		patch.AgentRef = &v
	}
	if has("target_statuses") {
		v := core.ContactStatuses(splitList(mcp.ParseString(request, "target_statuses", "")))
		patch.TargetStatuses = &v
	}
	if has("frequency") {
		v := core.Frequency(strings.ToLower(mcp.ParseString(request, "frequency", "")))
		patch.Frequency = &v
	}
	if has("run_time") {
		v, err := core.ParseRunTime(mcp.ParseString(request, "run_time", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		patch.RunTime = &v
	}
	if has("run_days") {
		v, err := core.ParseWeekdays(splitList(mcp.ParseString(request, "run_days", "")))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		patch.RunDays = &v
	}
	if has("timezone") {
		v := mcp.ParseString(request, "timezone", "")
		patch.Timezone = &v
	}
	if has("max_calls_per_run") {
		v := int(mcp.ParseFloat64(request, "max_calls_per_run", 0))
		patch.MaxCallsPerRun = &v
	}
	if has("enabled") {
		v := mcp.ParseBoolean(request, "enabled", true)
		patch.Enabled = &v
	}

	a, err := s.service.UpdateAutomation(ctx, mcp.ParseString(request, "automation_id", ""), patch)
	if err != nil {
		return toolError("update automation", err), nil
	}
	return mcp.NewToolResultText("Automation updated\n" + describeAutomation(a)), nil
}

func (s *MCPServer) handleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "automation_id", "")
	if err := s.service.DeleteAutomation(ctx, id); err != nil {
		return toolError("delete automation", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Automation deleted: %s", id)), nil
}

func (s *MCPServer) handleRunNow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "automation_id", "")
	run, err := s.service.TriggerRunNow(ctx, id)
	if err != nil {
		return toolError("start run", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Run started\nAutomation ID: %s\nRun ID: %s", id, run.ID)), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "automation_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))
	runs, err := s.service.ListRuns(ctx, id, limit, 0)
	if err != nil {
		return toolError("list runs", err), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("This automation has not run yet"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d runs:\n\n", len(runs))
	for _, r := range runs {
		fmt.Fprintf(&b, "[%s] %s\n", r.Status, r.ID)
		fmt.Fprintf(&b, "    Started: %s\n", formatTime(&r.StartedAt))
		if r.EndedAt != nil {
			fmt.Fprintf(&b, "    Ended: %s\n", formatTime(r.EndedAt))
		}
		fmt.Fprintf(&b, "    Processed %d, initiated %d, failed %d\n", r.ContactsProcessed, r.CallsInitiated, r.CallsFailed)
		if r.ErrorMessage != nil {
			fmt.Fprintf(&b, "    Error: %s\n", *r.ErrorMessage)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handlePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "automation_id", "")
	a, err := s.service.GetAutomation(ctx, id)
	if err != nil {
		return toolError("get automation", err), nil
	}
	times, err := s.service.PreviewSchedule(ctx, id, int(mcp.ParseFloat64(request, "count", 5)))
	if err != nil {
		return toolError("preview schedule", err), nil
	}
	if len(times) == 0 {
		return mcp.NewToolResultText("No upcoming runs"), nil
	}
	loc := core.AutomationLocation(a, s.service.Location())
	var b strings.Builder
	fmt.Fprintf(&b, "Schedule: %s\nTimezone: %s\n\nUpcoming runs:\n", describeSchedule(a), loc)
	for i, t := range times {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.In(loc).Format("2006-01-02 15:04 Mon"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleTick(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.service.RunSchedulerNow(ctx)
	if err != nil {
		return toolError("run scheduler", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Scheduler tick finished\nDue: %d\nCompleted: %d\nFailed: %d\nSkipped: %d",
		report.Due, report.Completed, report.Failed, report.Skipped)), nil
}

func toolError(op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, core.ErrAutomationNotFound):
		return mcp.NewToolResultError("Automation not found")
	case errors.Is(err, core.ErrRunInProgress):
		return mcp.NewToolResultError("Automation already has a run in progress")
	case errors.Is(err, core.ErrInvalidAutomation):
		return mcp.NewToolResultError(err.Error())
	default:
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", op, err))
	}
}

func describeAutomation(a *core.Automation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID: %s\n", a.ID)
	fmt.Fprintf(&b, "Name: %s\n", a.Name)
	fmt.Fprintf(&b, "User: %s\n", a.UserID)
	fmt.Fprintf(&b, "Enabled: %t\n", a.Enabled)
	fmt.Fprintf(&b, "Agent: %s\n", a.AgentRef)
	statuses := make([]string, len(a.TargetStatuses))
	for i, st := range a.TargetStatuses {
		statuses[i] = string(st)
	}
	fmt.Fprintf(&b, "Target statuses: %s\n", strings.Join(statuses, ", "))
	fmt.Fprintf(&b, "Schedule: %s\n", describeSchedule(a))
	if a.Timezone != "" {
		fmt.Fprintf(&b, "Timezone: %s\n", a.Timezone)
	}
	fmt.Fprintf(&b, "Max calls per run: %d\n", a.MaxCallsPerRun)
	fmt.Fprintf(&b, "Last run: %s\n", formatTime(a.LastRunAt))
	fmt.Fprintf(&b, "Next run: %s\n", formatTime(a.NextRunAt))
	return b.String()
}

func describeSchedule(a *core.Automation) string {
	switch a.Frequency {
	case core.FrequencyWeekly:
		days := make([]string, len(a.RunDays))
		for i, d := range a.RunDays {
			days[i] = core.WeekdayName(d)
		}
		return fmt.Sprintf("weekly on %s at %s", strings.Join(days, ","), a.RunTime)
	case core.FrequencyOnce:
		return "once"
	default:
		return fmt.Sprintf("%s at %s", a.Frequency, a.RunTime)
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
