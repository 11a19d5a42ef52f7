package domain

import "fmt"

// Error types for consistent error handling across the API and its client.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call
// (database, PostgREST).
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input). Validation errors
// are resolved locally and never reach the network layer.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates a resource already exists or is still referenced.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrDataIntegrity indicates a stored record that cannot be classified,
// e.g. one carrying both recurring and installment membership.
type ErrDataIntegrity struct {
	RecordID string
	Reason   string
}

func (e *ErrDataIntegrity) Error() string {
	return fmt.Sprintf("data integrity error on record %s: %s", e.RecordID, e.Reason)
}

// ErrNetwork is the client-side classification for timeouts, connectivity
// loss and non-2xx responses without a structured body. Retryable by the user.
type ErrNetwork struct {
	Op  string
	Err error
}

func (e *ErrNetwork) Error() string {
	return fmt.Sprintf("network error [%s]: %v", e.Op, e.Err)
}

func (e *ErrNetwork) Unwrap() error {
	return e.Err
}

// ErrServer is a structured error response from the API. Message is shown to
// the user verbatim.
type ErrServer struct {
	Status  int
	Message string
}

const genericServerMessage = "Não foi possível concluir a operação. Tente novamente."

func (e *ErrServer) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return genericServerMessage
}

// DataIntegrityWarning is a non-fatal problem found while materializing a
// month: the offending record is skipped, the rest of the list is rendered.
type DataIntegrityWarning struct {
	RecordID string `json:"recordId"`
	ParentID string `json:"parentId,omitempty"`
	Reason   string `json:"reason"`
}

func (w DataIntegrityWarning) String() string {
	if w.ParentID != "" {
		return fmt.Sprintf("record %s (parent %s): %s", w.RecordID, w.ParentID, w.Reason)
	}
	return fmt.Sprintf("record %s: %s", w.RecordID, w.Reason)
}
