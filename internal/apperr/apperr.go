// Package apperr converts heterogeneous backend failures into a uniform
// error taxonomy consumed by the auth core and the HTTP layer.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
)

// Severity grades how serious a normalized error is.
type Severity string

// Severity levels ordered from least to most serious.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups errors by origin.
type Category string

// Known error categories.
const (
	CategoryAuthentication Category = "authentication"
	CategoryNetwork        Category = "network"
	CategoryValidation     Category = "validation"
	CategoryPermission     Category = "permission"
	CategoryBackend        Category = "backend"
	CategoryUnknown        Category = "unknown"
)

const defaultMaxRetries = 3

// ErrPermissionDenied marks an action rejected by authorization checks.
var ErrPermissionDenied = errors.New("permission denied")

// AppError is the uniform error shape returned by every adapter boundary.
type AppError struct {
	Title      string
	Message    string
	Severity   Severity
	Category   Category
	Retryable  bool
	RetryCount int
	MaxRetries int
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap exposes the original error for errors.Is/As chains.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ShouldRetry reports whether another attempt is permitted.
func (e *AppError) ShouldRetry() bool {
	return e.Retryable && e.RetryCount < e.MaxRetries
}

// AuthStatusError is implemented by credential-service errors that carry an
// HTTP-like status code. Declared here to avoid an import cycle with the
// credentials package.
type AuthStatusError interface {
	error
	AuthStatus() int
}

// Normalize maps any error onto the AppError taxonomy and logs it with full
// context. A nil input returns nil. An already-normalized error passes
// through untouched.
func Normalize(logger *slog.Logger, err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	normalized := classify(err)
	normalized.Err = err

	if logger != nil {
		logger.Error("normalized error",
			slog.String("title", normalized.Title),
			slog.String("message", normalized.Message),
			slog.String("severity", string(normalized.Severity)),
			slog.String("category", string(normalized.Category)),
			slog.Bool("retryable", normalized.Retryable),
			slog.Int("max_retries", normalized.MaxRetries),
			slog.Any("error", err),
		)
	}
	return normalized
}

func classify(err error) *AppError {
	var statusErr AuthStatusError
	if errors.As(err, &statusErr) {
		return fromAuthStatus(statusErr)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromPostgres(pgErr)
	}

	if isNetworkError(err) {
		return &AppError{
			Title:      "Network Error",
			Message:    "Unable to connect to the server. Please check your connection.",
			Severity:   SeverityHigh,
			Category:   CategoryNetwork,
			Retryable:  true,
			MaxRetries: 5,
		}
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return &AppError{
			Title:      "Validation Error",
			Message:    validationErrs.Error(),
			Severity:   SeverityLow,
			Category:   CategoryValidation,
			MaxRetries: defaultMaxRetries,
		}
	}

	if errors.Is(err, ErrPermissionDenied) {
		return &AppError{
			Title:      "Permission Denied",
			Message:    "You do not have permission to perform this action.",
			Severity:   SeverityMedium,
			Category:   CategoryPermission,
			MaxRetries: defaultMaxRetries,
		}
	}

	return &AppError{
		Title:      "Unexpected Error",
		Message:    "An unexpected error occurred. Please try again.",
		Severity:   SeverityMedium,
		Category:   CategoryUnknown,
		MaxRetries: defaultMaxRetries,
	}
}

func fromAuthStatus(err AuthStatusError) *AppError {
	status := err.AuthStatus()
	out := &AppError{
		Category:   CategoryAuthentication,
		MaxRetries: defaultMaxRetries,
		Retryable:  status >= 500 || status == 429,
	}
	switch {
	case status == 400:
		out.Severity = SeverityLow
		out.Title = "Invalid Request"
		out.Message = "Please check your input and try again."
	case status == 401:
		out.Severity = SeverityMedium
		out.Title = "Authentication Failed"
		out.Message = "Invalid email or password. Please try again."
	case status == 403:
		out.Severity = SeverityMedium
		out.Title = "Access Denied"
		out.Message = "Your account is suspended or lacks the required permissions."
	case status == 429:
		out.Severity = SeverityHigh
		out.Title = "Too Many Requests"
		out.Message = "Too many attempts. Please wait a moment before trying again."
	case status >= 500:
		out.Severity = SeverityCritical
		out.Title = "Server Error"
		out.Message = "Server error. Please try again later."
	default:
		out.Severity = SeverityMedium
		out.Title = "Authentication Error"
		out.Message = err.Error()
	}
	return out
}

func fromPostgres(pgErr *pgconn.PgError) *AppError {
	return &AppError{
		Title:      "Database Error",
		Message:    postgresMessage(pgErr),
		Severity:   postgresSeverity(pgErr.Code),
		Category:   CategoryBackend,
		Retryable:  postgresRetryable(pgErr.Code),
		MaxRetries: defaultMaxRetries,
	}
}

func postgresSeverity(code string) Severity {
	switch {
	case hasClass(code, "22", "42", "3D", "3F"):
		return SeverityLow
	case hasClass(code, "23", "28"):
		return SeverityMedium
	case hasClass(code, "25"):
		return SeverityHigh
	case hasClass(code, "40", "53", "54", "55", "57", "58", "F0", "P0", "XX"):
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Transaction rollbacks and resource exhaustion are transient by nature.
func postgresRetryable(code string) bool {
	return hasClass(code, "40", "53", "57", "58")
}

func postgresMessage(pgErr *pgconn.PgError) string {
	switch pgErr.Code {
	case "23505":
		return "This record already exists. Please use a different value."
	case "23503":
		return "This operation would violate data integrity. Please check your input."
	case "23514":
		return "The data does not meet the required constraints."
	case "42P01":
		return "The requested resource was not found."
	case "42501":
		return "You do not have permission to perform this operation."
	case "42703":
		return "The requested field does not exist."
	}
	if pgErr.Message != "" {
		return pgErr.Message
	}
	return "A database error occurred."
}

func hasClass(code string, classes ...string) bool {
	for _, class := range classes {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
