package arbitrage

import (
	"errors"
	"fmt"

	"github.com/gregtusar/carry/pkg/models"
)

var (
	ErrDataUnavailable      = errors.New("market data unavailable")
	ErrMalformedResponse    = models.ErrMalformedResponse
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrOrderPlacementFailed = errors.New("order placement failed")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrInvalidParams        = errors.New("invalid parameters")
)

// ExecutionError reports the step at which a hedge execution stopped. Legs
// placed before Step are left open for the operator.
type ExecutionError struct {
	Step models.ExecutionState
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at %s: %v", e.Step, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func dataUnavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDataUnavailable, what, err)
}
