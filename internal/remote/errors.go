package remote

import (
	"errors"
	"fmt"

	"github.com/lllypuk/dashhost/internal/domain/errs"
)

// Phase names the step of loading a remote module that failed.
type Phase string

// Load phases.
const (
	PhaseFetch    Phase = "fetch"
	PhaseEvaluate Phase = "evaluate"
	PhaseRender   Phase = "render"
)

// Loader errors.
var (
	ErrModuleNotConfigured = fmt.Errorf("remote module is not configured: %w", errs.ErrNotFound)
	ErrEmptyArtifact       = errors.New("remote entry artifact is empty")
	ErrUnexpectedStatus    = errors.New("unexpected status fetching remote entry")
	ErrArtifactTooLarge    = errors.New("remote entry artifact is too large")
	ErrPanic               = errors.New("remote module panicked")
)

// LoadError describes why a remote module could not be shown. The fallback
// view does not distinguish phases; the detail is kept for logs and the API.
type LoadError struct {
	Module string
	Phase  Phase
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("remote module %s: %s: %v", e.Module, e.Phase, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// asLoadError returns err as a LoadError, wrapping it with phase when it is
// not one already.
func asLoadError(module string, phase Phase, err error) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	return &LoadError{Module: module, Phase: phase, Err: err}
}

// panicError turns a recovered value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrPanic, r)
}
