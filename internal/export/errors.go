package export

import (
	"errors"
	"fmt"

	"github.com/migrator-io/migrator/internal/emit"
	"github.com/migrator-io/migrator/internal/registry"
	"github.com/migrator-io/migrator/internal/rules"
)

// Kind classifies a fatal export failure. Per-row data problems are never
// fatal; they live in the exceptions store.
type Kind string

// Fatal failure kinds.
const (
	// KindRegistryInvalid means the registry failed to load or validate.
	KindRegistryInvalid Kind = "RegistryInvalid"
	// KindRuleError means a rule expression failed to parse or evaluate.
	KindRuleError Kind = "RuleError"
	// KindOutputIntegrity means an emitted artifact failed verification.
	KindOutputIntegrity Kind = "OutputIntegrity"
	// KindIOError covers unreadable sources and unwritable artifacts.
	KindIOError Kind = "IOError"
)

// Error is a fatal export failure with its classification and, when known,
// the model being processed. Artifacts emitted before the failure remain on
// disk.
type Error struct {
	Kind  Kind
	Model string
	Err   error
}

func (e *Error) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("export failed (%s, model %s): %v", e.Kind, e.Model, e.Err)
	}

	return fmt.Sprintf("export failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// fatal wraps an error with its classified kind.
func fatal(model string, err error) *Error {
	return &Error{Kind: classify(err), Model: model, Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, registry.ErrRegistryInvalid):
		return KindRegistryInvalid
	case errors.Is(err, rules.ErrRule):
		return KindRuleError
	case errors.Is(err, emit.ErrHeaderMismatch):
		return KindOutputIntegrity
	default:
		return KindIOError
	}
}
