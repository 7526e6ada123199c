// Package cmd provides the CLI commands for pharmagate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pharmalink/pharmagate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pharmagate",
	Short: "pharmagate - pharmacy marketplace security gateway",
	Long: `pharmagate sits in front of the pharmacy marketplace and applies
rate limiting, request validation, security headers, and role-based
route protection before forwarding requests to the application.

It also serves login, token verification and security administration
endpoints under /api/auth and /api/admin/security.

Quick start:
  1. Create a config file: pharmagate.yaml
  2. Hash a password: pharmagate hash-password
  3. Run: pharmagate start

Configuration:
  Config is loaded from pharmagate.yaml in the current directory,
  $HOME/.pharmagate/, or /etc/pharmagate/.

  Environment variables can override config values with the PHARMAGATE_ prefix.
  Example: PHARMAGATE_SERVER_HTTP_ADDR=:9090

Commands:
  start          Start the gateway
  stop           Stop the running gateway
  hash-password  Generate an Argon2id hash for a user password
  token          Issue or verify session tokens
  validate       Check the configuration
  version        Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./pharmagate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
