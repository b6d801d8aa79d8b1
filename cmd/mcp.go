package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/config"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for LLM agents",
	Long: `Start MCP server for LLM agents

Exposes read-only attendance tools (list_students, query_attendance,
attendance_summary) over the Model Context Protocol on stdio.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
	Example: `  # Configure in an MCP client:
  # {
  #   "mcpServers": {
  #     "attendance": {
  #       "command": "face-attendance",
  #       "args": ["mcp"]
  #     }
  #   }
  # }`,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol
	log.SetOutput(os.Stderr)
	statusOut = os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, backend, err := newService(ctx, config.Load())
	if err != nil {
		return err
	}
	defer backend.Close()

	server := mcp.NewServer("Face Attendance", Version, svc)

	log.Println("Attendance MCP server starting on stdio...")
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mcpserver.ServeStdio(server)
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	return nil
}
