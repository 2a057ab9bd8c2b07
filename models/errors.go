package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
)

var (
	ErrNoLoanSelected     = errors.New("select a hand loan first")
	ErrRecoveryInProgress = errors.New("a recovery for this hand loan is already being recorded")
	ErrNoSession          = errors.New("no active session")
	ErrAuditUnavailable   = errors.New("audit trail is not configured")
)

// ValidationError is a form-level rejection raised before any upstream request.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

// orNil lets callers build up a ValidationError and return it only when it holds something.
func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// notFound turns an upstream 404 for one record into utils.ErrorRecordNotFound.
func notFound(err error, what string, id upstream.ID) error {
	if upstream.IsNotFound(err) {
		return fmt.Errorf("%s %s: %w", what, id, utils.ErrorRecordNotFound)
	}
	return err
}
