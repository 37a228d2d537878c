// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"fmt"

	"github.com/momentics/hioload-pipeline/api"
)

// PanicError carries a value recovered from a handler.
type PanicError struct {
	Handler string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %q panicked: %v", e.Handler, e.Value)
}

// Unwrap exposes panics raised with an error value.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func pipelineErr(format string, args ...any) error {
	return api.Errorf(api.ErrCodePipelineConfig, format, args...)
}

func operationErr(msg string, cause error) error {
	return api.NewError(api.ErrCodeChannelOperation, msg).WithCause(cause)
}
