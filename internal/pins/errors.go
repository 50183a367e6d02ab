package pins

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingDirectory = errors.New("owner directory is required")
	errMissingStore     = errors.New("pin store is required")
	errMissingLimiter   = errors.New("rate limiter is required")
	noOpLogger          = zap.NewNop()
)

// ServiceError carries an operation-scoped code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew     = "pins.store.new"
	opIngestorNew  = "pins.ingestor.new"
	opCreate       = "pins.create"
	opGet          = "pins.get"
	opListByOwner  = "pins.list_by_owner"
	opListWeekly   = "pins.list_weekly"
	opSnapshot     = "pins.snapshot"
	opIngest       = "pins.ingest"
	reasonQuery    = "query_failed"
	reasonDatabase = "missing_database"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("pins service error", attrs...)
}
