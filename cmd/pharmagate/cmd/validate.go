package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pharmalink/pharmagate/internal/config"
	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration",
	Long: `Load and validate the configuration, then print the effective
rate-limit policies. Exits non-zero when the configuration is invalid.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if _, err := newValidator(cfg); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		file := config.ConfigFileUsed()
		if file == "" {
			file = "(none, environment only)"
		}
		fmt.Fprintf(out, "configuration OK: %s\n", file)
		fmt.Fprintf(out, "  %-14s %s\n", "Mode:", cfg.Server.Mode)
		fmt.Fprintf(out, "  %-14s %s\n", "Listen:", cfg.Server.HTTPAddr)
		fmt.Fprintf(out, "  %-14s %d\n", "Users:", len(cfg.Auth.Users))
		fmt.Fprintf(out, "  %-14s %d\n", "Protected:", len(cfg.Auth.ProtectedRoutes))
		fmt.Fprintf(out, "  %-14s %s\n", "Events:", cfg.Audit.Output)

		policies := cfg.RateLimit.Policies()
		for _, tier := range []ratelimit.Tier{ratelimit.TierAuth, ratelimit.TierStrict, ratelimit.TierAPI, ratelimit.TierFailedLogin} {
			p := policies[tier]
			fmt.Fprintf(out, "  %-14s %d per %s\n", string(tier)+":", p.MaxRequests, p.Window)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
