package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pharmalink/pharmagate/internal/config"
	"github.com/pharmalink/pharmagate/internal/domain/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue or verify session tokens",
	Long: `Issue or verify session tokens with the configured auth.jwt_secret.

Useful for testing protected routes and for service accounts.`,
}

var tokenIssueFlags struct {
	userID     string
	email      string
	role       string
	patientID  string
	pharmacyID string
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a session token",
	Long: `Issue a session token for an identity.

Example:
  pharmagate token issue --user-id admin-1 --email ops@pharmalink.cm --role admin`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := tokenIssueFlags
		role := auth.Role(f.role)
		if !role.IsValid() {
			return fmt.Errorf("invalid role %q: must be patient, pharmacy or admin", f.role)
		}
		if f.userID == "" || f.email == "" {
			return errors.New("--user-id and --email are required")
		}

		sessions, err := loadSessions()
		if err != nil {
			return err
		}
		token, err := sessions.Generate(auth.Principal{
			UserID:     f.userID,
			Email:      f.email,
			Role:       role,
			PatientID:  f.patientID,
			PharmacyID: f.pharmacyID,
		})
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify a session token and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := loadSessions()
		if err != nil {
			return err
		}
		claims, err := sessions.Verify(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(claims)
	},
}

// loadSessions builds a SessionManager from the validated config.
func loadSessions() (*auth.SessionManager, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return newSessions(cfg)
}

func init() {
	fl := tokenIssueCmd.Flags()
	fl.StringVar(&tokenIssueFlags.userID, "user-id", "", "user identifier")
	fl.StringVar(&tokenIssueFlags.email, "email", "", "user email")
	fl.StringVar(&tokenIssueFlags.role, "role", string(auth.RolePatient), "patient, pharmacy or admin")
	fl.StringVar(&tokenIssueFlags.patientID, "patient-id", "", "linked patient record")
	fl.StringVar(&tokenIssueFlags.pharmacyID, "pharmacy-id", "", "linked pharmacy")

	tokenCmd.AddCommand(tokenIssueCmd, tokenVerifyCmd)
	rootCmd.AddCommand(tokenCmd)
}
