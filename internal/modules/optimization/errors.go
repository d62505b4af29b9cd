package optimization

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInfeasible is wrapped by SolverError when the constraint set admits no
// portfolio. Such requests never reach a solver.
var ErrInfeasible = errors.New("infeasible constraints")

// ValidationError reports a malformed or underspecified request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErrorf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientDataError reports that price history is too short, or does
// not overlap enough, for the requested tickers.
type InsufficientDataError struct {
	Tickers []string
	Reason  string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient price data for %s: %s", strings.Join(e.Tickers, ", "), e.Reason)
}

// SolverError reports an infeasible constraint set or a solver that did not
// converge for the named objective.
type SolverError struct {
	Objective Objective
	Reason    string
	Err       error
}

func (e *SolverError) Error() string {
	msg := fmt.Sprintf("%s solver failed: %s", e.Objective, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SolverError) Unwrap() error {
	return e.Err
}

func infeasible(objective Objective, format string, args ...interface{}) *SolverError {
	return &SolverError{Objective: objective, Reason: fmt.Sprintf(format, args...), Err: ErrInfeasible}
}

// ErrorType classifies err for API responses.
func ErrorType(err error) string {
	var verr *ValidationError
	var derr *InsufficientDataError
	var serr *SolverError
	switch {
	case errors.As(err, &verr):
		return "validation_error"
	case errors.As(err, &derr):
		return "insufficient_data"
	case errors.Is(err, ErrInfeasible):
		return "infeasible"
	case errors.As(err, &serr):
		return "solver_error"
	default:
		return "internal_error"
	}
}
