package recovery

import (
	"fmt"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/errors"
)

// Guard runs fn and converts a panic inside it into a Resource-exhaustion
// EngineError instead of letting it unwind into the FUSE server process.
// Every Dispatch call in internal/dispatcher is wrapped by Guard so a
// defect in a fault evaluator or the pass-through executor degrades a
// single filesystem call rather than taking down the mount.
func Guard(component, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewError(errors.ErrCodeResourceExhausted, fmt.Sprintf("recovered panic: %v", r)).
				WithComponent(component).
				WithOperation(operation).
				WithStack()
		}
	}()
	return fn()
}
