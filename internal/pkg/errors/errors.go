package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input rejected at an ingress or query boundary.
	ErrValidation = errors.New("validation")
	// ErrConflict marks a uniqueness or concurrency conflict in a backing store.
	ErrConflict = errors.New("conflict")
	// ErrRetrieval marks an unavailable read path. Callers may retry.
	ErrRetrieval = errors.New("retrieval failure")
	// ErrDelivery marks a projection handler failure inside the fanout.
	ErrDelivery = errors.New("delivery failure")
	// ErrRetryable marks a transient backing-store failure.
	ErrRetryable = errors.New("retryable")
)

// Validation tags msg as a validation failure.
func Validation(msg string) error {
	return errors.Join(ErrValidation, errors.New(strings.TrimSpace(msg)))
}

func Validationf(format string, args ...any) error {
	return Validation(fmt.Sprintf(format, args...))
}

// Retrieval wraps a read-path failure for op.
func Retrieval(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrRetrieval, fmt.Errorf("%s: %w", op, err))
}

// Delivery wraps a projection apply failure for op.
func Delivery(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrDelivery, fmt.Errorf("%s: %w", op, err))
}

// IsRetryable reports whether err is worth retrying as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable) || errors.Is(err, ErrRetrieval) || errors.Is(err, ErrDelivery)
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsRetrieval(err error) bool  { return errors.Is(err, ErrRetrieval) }

// IsCanceled reports a caller cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// MapDBError maps gorm/postgres failures into the sentinels above.
func MapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrRetryable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Join(ErrNotFound, fmt.Errorf("%s: %w", op, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrRetryable, fmt.Errorf("%s: %w", op, err))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505": // unique_violation
			return errors.Join(ErrConflict, fmt.Errorf("%s: %w", op, err))
		case "23502", "23514", "22P02": // not_null, check, invalid_text_representation
			return errors.Join(ErrValidation, fmt.Errorf("%s: %w", op, err))
		case "40001", "40P01", "55P03", "57P01":
			return errors.Join(ErrRetryable, fmt.Errorf("%s: %w", op, err))
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "duplicate key"):
		return errors.Join(ErrConflict, fmt.Errorf("%s: %w", op, err))
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "bad connection"):
		return errors.Join(ErrRetryable, fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
