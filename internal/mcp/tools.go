// Package mcp exposes read-only attendance tools over the Model Context Protocol.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
)

// NewServer creates an MCP server with all attendance tools registered.
func NewServer(name, version string, svc *attendance.Service) *mcpserver.MCPServer {
	server := mcpserver.NewMCPServer(name, version)
	RegisterTools(server, svc)
	return server
}

// RegisterTools registers all MCP tools with the server
func RegisterTools(server *mcpserver.MCPServer, svc *attendance.Service) *Handlers {
	handlers := &Handlers{service: svc}

	server.AddTool(mcp.Tool{
		Name:        "list_students",
		Description: "List enrolled students. Optionally filter by class or by a name/roll number search.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"class": map[string]any{
					"type":        "string",
					"description": "Exact class name, e.g. 10A",
				},
				"query": map[string]any{
					"type":        "string",
					"description": "Name or roll number search, accent insensitive",
				},
			},
		},
	}, handlers.ListStudents)

	server.AddTool(mcp.Tool{
		Name:        "query_attendance",
		Description: "Return attendance records for a date or date range (YYYY-MM-DD). Defaults to today.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "Single day, overrides from/to",
				},
				"from": map[string]any{
					"type":        "string",
					"description": "First day of the range, inclusive",
				},
				"to": map[string]any{
					"type":        "string",
					"description": "Last day of the range, inclusive",
				},
				"class": map[string]any{
					"type":        "string",
					"description": "Exact class name",
				},
				"student_id": map[string]any{
					"type":        "string",
					"description": "Restrict to one student",
				},
				"query": map[string]any{
					"type":        "string",
					"description": "Name or roll number search",
				},
			},
		},
	}, handlers.QueryAttendance)

	server.AddTool(mcp.Tool{
		Name:        "attendance_summary",
		Description: "Per-day totals of present, late and absent students ending at a date.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "Last day of the summary (default today)",
				},
				"days": map[string]any{
					"type":        "number",
					"description": "Number of days to summarize (default: 7)",
					"default":     7,
				},
			},
		},
	}, handlers.AttendanceSummary)

	return handlers
}
