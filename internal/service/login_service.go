package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pharmalink/pharmagate/internal/domain/audit"
	"github.com/pharmalink/pharmagate/internal/domain/auth"
	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
	"github.com/pharmalink/pharmagate/internal/domain/validation"
)

// Login errors.
var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountLocked is returned while the failed-login budget is exhausted.
	ErrAccountLocked = errors.New("account temporarily locked due to multiple failed login attempts")
	// ErrMissingCredentials is returned when email or password is empty.
	ErrMissingCredentials = errors.New("email and password are required")
)

// LockedError carries the wait before the next login attempt.
type LockedError struct {
	RetryAfter int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s (retry after %ds)", ErrAccountLocked, e.RetryAfter)
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// CredentialsError reports how many attempts remain before lockout.
type CredentialsError struct {
	AttemptsRemaining int
}

func (e *CredentialsError) Error() string { return ErrInvalidCredentials.Error() }

func (e *CredentialsError) Unwrap() error { return ErrInvalidCredentials }

// InvalidInputError wraps validation messages for the login form.
type InvalidInputError struct {
	Message string
	Details []string
}

func (e *InvalidInputError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

// LoginRequest is one login attempt.
type LoginRequest struct {
	Email     string
	Password  string
	ClientIP  string
	UserAgent string
}

// LoginResult is a successful login.
type LoginResult struct {
	Token     string
	User      auth.Principal
	ExpiresAt time.Time
}

// EventRecorder accepts security events.
type EventRecorder interface {
	Record(e audit.SecurityEvent)
}

// LoginService authenticates email/password credentials and issues tokens.
type LoginService struct {
	users     auth.UserStore
	sessions  *auth.SessionManager
	guard     *ratelimit.LoginGuard
	validator *validation.Validator
	events    EventRecorder
	logger    *slog.Logger
	now       func() time.Time
	verify    func(password, hash string) (bool, error)
}

// NewLoginService creates a LoginService. events may be nil.
func NewLoginService(
	users auth.UserStore,
	sessions *auth.SessionManager,
	guard *ratelimit.LoginGuard,
	validator *validation.Validator,
	events EventRecorder,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		users:     users,
		sessions:  sessions,
		guard:     guard,
		validator: validator,
		events:    events,
		logger:    logger,
		now:       time.Now,
		verify:    auth.VerifyPassword,
	}
}

// Login checks the credentials in req.
//
// Failed attempts are counted per email. Once the failed-login budget is
// exhausted the account is locked until the oldest failure leaves the window,
// even for a correct password.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, &InvalidInputError{Message: "Email and password are required"}
	}

	emailResult := s.validator.ValidateEmail(req.Email)
	if !emailResult.IsValid {
		s.record(req, audit.SecurityEvent{
			Type:    audit.EventValidationFailure,
			Message: "invalid email on login",
		})
		return nil, &InvalidInputError{Message: "Invalid email format", Details: emailResult.Errors}
	}
	email := emailResult.Sanitized

	// Malformed passwords are refused before any account is consulted and
	// do not count as failed attempts.
	if pw := s.validator.ValidatePassword(req.Password); !pw.IsValid {
		s.record(req, audit.SecurityEvent{
			Type:    audit.EventValidationFailure,
			Message: "invalid password format on login",
			Email:   email,
		})
		return nil, &InvalidInputError{Message: "Invalid password format", Details: pw.Errors}
	}

	if locked, retryAfter := s.guard.Locked(ctx, email); locked {
		s.record(req, audit.SecurityEvent{
			Type:    audit.EventLoginFailure,
			Message: "login attempt on locked account",
			Email:   email,
		})
		return nil, &LockedError{RetryAfter: retryAfter}
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	ok := false
	if user != nil && !user.Disabled {
		ok, err = s.verify(req.Password, user.PasswordHash)
		if err != nil {
			s.logger.Error("password verification failed", "user_id", user.ID, "error", err)
			ok = false
		}
	} else {
		// Unknown and disabled accounts pay for one verification too.
		_, _ = s.verify(req.Password, auth.TimingHash())
	}

	if !ok {
		return nil, s.fail(ctx, req, email)
	}

	if err := s.guard.RecordSuccess(ctx, email); err != nil {
		s.logger.Warn("failed to clear failed login attempts", "error", err)
	}

	principal := auth.PrincipalFor(user)
	issuedAt := s.now()
	token, err := s.sessions.Generate(principal)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.record(req, audit.SecurityEvent{
		Type:    audit.EventLoginSuccess,
		Message: "login successful",
		UserID:  user.ID,
		Email:   email,
	})
	s.logger.Info("user logged in", "user_id", user.ID, "role", user.Role)

	return &LoginResult{
		Token:     token,
		User:      principal,
		ExpiresAt: issuedAt.Add(s.sessions.TTL()),
	}, nil
}

func (s *LoginService) fail(ctx context.Context, req LoginRequest, email string) error {
	locked, retryAfter := s.guard.RecordFailure(ctx, email)
	if locked {
		s.record(req, audit.SecurityEvent{
			Type:    audit.EventAccountLocked,
			Message: "account locked after repeated failed logins",
			Email:   email,
		})
		return &LockedError{RetryAfter: retryAfter}
	}

	s.record(req, audit.SecurityEvent{
		Type:    audit.EventLoginFailure,
		Message: "invalid credentials",
		Email:   email,
	})
	return &CredentialsError{AttemptsRemaining: s.guard.Remaining(ctx, email)}
}

func (s *LoginService) record(req LoginRequest, e audit.SecurityEvent) {
	if s.events == nil {
		return
	}
	e.ClientIP = req.ClientIP
	e.UserAgent = req.UserAgent
	e.Method = "POST"
	e.Path = "/api/auth/login"
	s.events.Record(e)
}
