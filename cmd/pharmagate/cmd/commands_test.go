package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/pharmalink/pharmagate/internal/domain/auth"
)

// execute runs the root command with args against an isolated environment.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands_Registered(t *testing.T) {
	want := map[string]bool{"start": false, "stop": false, "hash-password": false, "token": false, "validate": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s command not registered", name)
		}
	}
}

func TestHashPassword(t *testing.T) {
	out, err := execute(t, "", "hash-password", "Pharma#2024secure")
	if err != nil {
		t.Fatal(err)
	}
	hash := strings.TrimSpace(out)
	ok, err := auth.VerifyPassword("Pharma#2024secure", hash)
	if err != nil || !ok {
		t.Errorf("hash %q does not verify: %v", hash, err)
	}
}

func TestHashPassword_Stdin(t *testing.T) {
	out, err := execute(t, "from-stdin\n", "hash-password")
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := auth.VerifyPassword("from-stdin", strings.TrimSpace(out)); !ok {
		t.Error("stdin password was not hashed")
	}

	if _, err := execute(t, "", "hash-password"); err == nil {
		t.Error("expected error for empty stdin")
	}
}

func TestToken_IssueAndVerify(t *testing.T) {
	t.Setenv("PHARMAGATE_AUTH_JWT_SECRET", "cli-test-secret")

	out, err := execute(t, "", "token", "issue", "--user-id", "admin-1", "--email", "ops@pharmalink.cm", "--role", "admin")
	if err != nil {
		t.Fatal(err)
	}
	token := strings.TrimSpace(out)

	out, err = execute(t, "", "token", "verify", token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, `"userId": "admin-1"`) || !strings.Contains(out, `"role": "admin"`) {
		t.Errorf("claims = %s", out)
	}

	t.Setenv("PHARMAGATE_AUTH_JWT_SECRET", "another-secret")
	if _, err := execute(t, "", "token", "verify", token); err == nil {
		t.Error("token signed with another secret should not verify")
	}
}

func TestToken_IssueRejectsUnknownRole(t *testing.T) {
	t.Setenv("PHARMAGATE_AUTH_JWT_SECRET", "cli-test-secret")
	_, err := execute(t, "", "token", "issue", "--user-id", "x", "--email", "x@y.cm", "--role", "doctor")
	if err == nil || !strings.Contains(err.Error(), "invalid role") {
		t.Errorf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("PHARMAGATE_AUTH_JWT_SECRET", "cli-test-secret")
	out, err := execute(t, "", "validate")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "configuration OK") || !strings.Contains(out, "auth:") {
		t.Errorf("output = %s", out)
	}

	t.Setenv("PHARMAGATE_SERVER_MODE", "production")
	if _, err := execute(t, "", "validate"); err == nil {
		t.Error("short secret should fail validation in production")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "pharmagate "+Version) {
		t.Errorf("output = %q", out)
	}
}
