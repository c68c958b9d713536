// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes tasklink tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tasklink/internal/actions"
	"github.com/starford/tasklink/internal/bulk"
)

const taskFormatURI = "tasklink://task-format"

// Server wraps the MCP server with tasklink tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *actions.Service
	logger *slog.Logger
}

func pathsArg() mcp.ToolOption {
	return mcp.WithArray("paths",
		mcp.Required(),
		mcp.Description("Vault-relative document paths (e.g. Projects/Alpha.md)"),
		mcp.Items(map[string]any{"type": "string"}),
	)
}

// New creates a new MCP server with all tasklink tools registered.
func New(svc *actions.Service, version string, logger *slog.Logger) *Server {
	s := &Server{svc: svc, logger: logger}

	s.mcp = server.NewMCPServer(
		"tasklink",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("check_duplicates",
		mcp.WithDescription("Report which source documents already have a task linking to them."),
		pathsArg(),
	), s.checkDuplicates)

	s.mcp.AddTool(mcp.NewTool("precheck_tasks",
		mcp.WithDescription("Dry run of create_tasks: how many tasks would be created and skipped."),
		pathsArg(),
		mcp.WithBoolean("skip_existing", mcp.Description("Skip sources that already have a linked task (default true)")),
	), s.precheckTasks)

	s.mcp.AddTool(mcp.NewTool("create_tasks",
		mcp.WithDescription("Create one task per source document. Run precheck_tasks first. "+
			"Failures are reported per document; the batch always runs to the end."),
		pathsArg(),
		mcp.WithBoolean("skip_existing", mcp.Description("Skip sources that already have a linked task (default true)")),
		mcp.WithBoolean("link_to_source", mcp.Description("Link each task back to its source (default true)")),
	), s.createTasks)

	s.mcp.AddTool(mcp.NewTool("precheck_conversion",
		mcp.WithDescription("Classify documents as convertible or already tasks."),
		pathsArg(),
	), s.precheckConversion)

	s.mcp.AddTool(mcp.NewTool("convert_notes",
		mcp.WithDescription("Turn existing documents into tasks in place. Existing frontmatter values are never overwritten."),
		pathsArg(),
		mcp.WithBoolean("apply_defaults", mcp.Description("Fill in default status, priority and creation date when absent")),
		mcp.WithBoolean("link_to_query", mcp.Description("Add a link to query_path in each converted task")),
		mcp.WithString("query_path", mcp.Description("Saved query definition to link to")),
		mcp.WithBoolean("count_skipped", mcp.Description("Count documents that already are tasks as skipped (default true)")),
	), s.convertNotes)

	s.mcp.AddTool(mcp.NewTool("list_monitored_queries",
		mcp.WithDescription("List the saved queries being watched for result changes."),
	), s.listMonitoredQueries)

	s.mcp.AddTool(mcp.NewTool("snooze_query",
		mcp.WithDescription("Silence notifications of a monitored query for a number of minutes. Minutes 0 clears the snooze."),
		mcp.WithString("query_id", mcp.Required(), mcp.Description("Path of the query definition")),
		mcp.WithNumber("minutes", mcp.Required(), mcp.Description("Snooze length in minutes")),
	), s.snoozeQuery)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all notes or notes in a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_task_contract",
		mcp.WithDescription("Returns the task document format of this vault. "+
			"Call this before writing task frontmatter by hand."),
	), s.getTaskContract)

	s.mcp.AddResource(
		mcp.NewResource(taskFormatURI, "Task Format Contract",
			mcp.WithResourceDescription("Frontmatter schema that task documents follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTaskFormatResource,
	)

	return s
}

// ServeStdio serves MCP on stdin/stdout until ctx is cancelled or stdin
// is closed. Transport errors go to the server logger, never to stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func requirePaths(req mcp.CallToolRequest) ([]string, *mcp.CallToolResult) {
	paths, err := req.RequireStringSlice("paths")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	if len(paths) == 0 {
		return nil, mcp.NewToolResultError("paths must not be empty")
	}
	return paths, nil
}

func (s *Server) progress(tool string) bulk.ProgressFunc {
	return func(current, total int, message string) {
		s.logger.Debug("mcp: "+tool+" progress",
			slog.Int("current", current),
			slog.Int("total", total),
			slog.String("message", message))
	}
}

func (s *Server) checkDuplicates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, bad := requirePaths(req)
	if bad != nil {
		return bad, nil
	}
	rep, err := s.svc.CheckDuplicates(ctx, paths)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (s *Server) precheckTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, bad := requirePaths(req)
	if bad != nil {
		return bad, nil
	}
	res, err := s.svc.PrecheckTasks(ctx, paths, req.GetBool("skip_existing", true))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) createTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, bad := requirePaths(req)
	if bad != nil {
		return bad, nil
	}
	res := s.svc.CreateTasks(ctx, actions.GenerateRequest{
		Paths:        paths,
		SkipExisting: req.GetBool("skip_existing", true),
		LinkToSource: req.GetBool("link_to_source", true),
	}, s.progress("create_tasks"))
	return jsonResult(res)
}

func (s *Server) precheckConversion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, bad := requirePaths(req)
	if bad != nil {
		return bad, nil
	}
	res, err := s.svc.PrecheckConversion(ctx, paths)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) convertNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, bad := requirePaths(req)
	if bad != nil {
		return bad, nil
	}
	res, err := s.svc.ConvertNotes(ctx, actions.ConvertRequest{
		Paths:         paths,
		ApplyDefaults: req.GetBool("apply_defaults", false),
		LinkToQuery:   req.GetBool("link_to_query", false),
		QueryPath:     req.GetString("query_path", ""),
		CountSkipped:  req.GetBool("count_skipped", true),
	}, s.progress("convert_notes"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) listMonitoredQueries(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.MonitoredQueries(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(st) == 0 {
		return mcp.NewToolResultText("no monitored queries"), nil
	}
	return jsonResult(st)
}

func (s *Server) snoozeQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("query_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	minutes, err := req.RequireInt("minutes")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if minutes == 0 {
		if err := s.svc.UnsnoozeQuery(ctx, id); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("snooze cleared: " + id), nil
	}
	until, err := s.svc.SnoozeQuery(ctx, id, minutes)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("snoozed " + id + " until " + until.UTC().Format(time.RFC3339)), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.ReadNote(ctx, path)
	if err != nil {
		return mcp.NewToolResultError("not found: " + path), nil
	}
	return mcp.NewToolResultText(note.Content), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.svc.ListNotes(ctx, req.GetString("folder", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		paths = append(paths, d.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) getTaskContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TaskContract(s.svc.Settings())), nil
}

func (s *Server) readTaskFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      taskFormatURI,
			MIMEType: "text/markdown",
			Text:     TaskContract(s.svc.Settings()),
		},
	}, nil
}
