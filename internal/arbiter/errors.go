package arbiter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vramd/internal/backend"
)

// backendUnavailableError signals the target server is not running.
type backendUnavailableError struct {
	kind    backend.Kind
	baseURL string
}

func (e backendUnavailableError) Error() string {
	name := e.kind.DisplayName()
	if e.baseURL == "" {
		return fmt.Sprintf("%s is not configured", name)
	}
	return fmt.Sprintf("%s is not reachable at %s. Start %s and try again.", name, e.baseURL, name)
}

func (backendUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrBackendUnavailable constructs a backendUnavailableError.
func ErrBackendUnavailable(kind backend.Kind, baseURL string) error {
	return backendUnavailableError{kind: kind, baseURL: baseURL}
}

// IsBackendUnavailable reports whether err says the target server is down.
func IsBackendUnavailable(err error) bool {
	var e backendUnavailableError
	return errors.As(err, &e)
}

// modelNotFoundError carries the backend inventory so callers can suggest
// alternatives.
type modelNotFoundError struct {
	kind      backend.Kind
	model     string
	available []string
}

func (e modelNotFoundError) Error() string {
	msg := fmt.Sprintf("model %q is not installed on %s", e.model, e.kind.DisplayName())
	if len(e.available) == 0 {
		return msg + "; no models are installed"
	}
	return msg + "; available: " + strings.Join(e.available, ", ")
}

func (modelNotFoundError) StatusCode() int { return http.StatusNotFound }

// ErrModelNotFound constructs a modelNotFoundError.
func ErrModelNotFound(kind backend.Kind, model string, available []string) error {
	return modelNotFoundError{kind: kind, model: model, available: available}
}

// IsModelNotFound reports whether err says the model is absent from the inventory.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// AvailableModels returns the inventory carried by a ModelNotFound error.
func AvailableModels(err error) []string {
	var e modelNotFoundError
	if errors.As(err, &e) {
		return append([]string(nil), e.available...)
	}
	return nil
}

// prepareFailedError wraps load, warm-up and confirmation failures.
type prepareFailedError struct {
	kind  backend.Kind
	model string
	cause error
}

func (e prepareFailedError) Error() string {
	return fmt.Sprintf("prepare %s on %s failed: %v", e.model, e.kind.DisplayName(), e.cause)
}

func (e prepareFailedError) Unwrap() error { return e.cause }

func (prepareFailedError) StatusCode() int { return http.StatusBadGateway }

// ErrPrepareFailed constructs a prepareFailedError.
func ErrPrepareFailed(kind backend.Kind, model string, cause error) error {
	return prepareFailedError{kind: kind, model: model, cause: cause}
}

// IsPrepareFailed reports whether err is a load or warm-up failure.
func IsPrepareFailed(err error) bool {
	var e prepareFailedError
	return errors.As(err, &e)
}

// result labels an outcome for metrics and events.
func result(err error) string {
	switch {
	case err == nil:
		return "ready"
	case IsBackendUnavailable(err):
		return "backend_unavailable"
	case IsModelNotFound(err):
		return "model_not_found"
	case IsPrepareFailed(err):
		return "prepare_failed"
	}
	return "error"
}
