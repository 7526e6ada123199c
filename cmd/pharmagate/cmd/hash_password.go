package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pharmalink/pharmagate/internal/domain/auth"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Generate an Argon2id hash for a user password",
	Long: `Generate an Argon2id hash of a password for use in config.

The output is a PHC string ("$argon2id$v=19$...") which can be used
directly in the auth.users[].password_hash field.

Example:
  pharmagate hash-password "correct horse battery staple"

Security note: a password passed as an argument appears in shell history.
Omit the argument to read it from stdin instead:
  printf '%s' "$USER_PASSWORD" | pharmagate hash-password`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password given on stdin")
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return errors.New("password must not be empty")
		}

		hash, err := auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
