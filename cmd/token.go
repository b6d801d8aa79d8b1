package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/config"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/web/middleware"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token signed with AUTH_JWT_SECRET",
	Long: `Mint a bearer token for the HTTP API.

Roles:
  admin  enroll students, read reports and configuration, verify
  kiosk  verify only

Examples:
  face-attendance token --role kiosk --subject gate-1
  face-attendance token --role admin --subject office --ttl 720h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("role", constants.RoleKiosk, "Token role (admin or kiosk)")
	tokenCmd.Flags().String("subject", "", "Device or operator name recorded in the token")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime, 0 for no expiry")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret)
	if !auth.Enabled() {
		return errors.New("AUTH_JWT_SECRET environment variable is required")
	}

	role := mustGetString(cmd, "role")
	if role != constants.RoleAdmin && role != constants.RoleKiosk {
		return fmt.Errorf("unknown role %q, expected %s or %s", role, constants.RoleAdmin, constants.RoleKiosk)
	}
	subject := mustGetString(cmd, "subject")
	if subject == "" {
		subject = role
	}

	token, err := auth.GenerateToken(subject, role, mustGetDuration(cmd, "ttl"))
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(os.Stdout, token)
	return nil
}
