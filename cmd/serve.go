package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/config"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the attendance HTTP API.
Kiosks post photos to /api/v1/verify; administrators enroll students and
read reports under /api/v1/students and /api/v1/attendance.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// resolveServeHostPort applies flag overrides on top of the environment.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeHostPort(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, backend, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	server := web.NewServer(cfg, svc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		daemon.SdNotify(false, daemon.SdNotifyStopping)

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	ln, err := net.Listen("tcp", cfg.Web.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Web.Addr(), err)
	}

	fmt.Printf("Starting Face Attendance API on http://%s\n", ln.Addr())
	fmt.Println("Press Ctrl+C to stop")

	daemon.SdNotify(false, daemon.SdNotifyReady)
	if err := server.Serve(ln); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
