package composite

import (
	"fmt"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

// SourceError reports the failure of one source during a count or fetch barrier.
// It matches exportsource.ErrSourceFailed with errors.Is and unwraps to the source's error.
type SourceError struct {
	Source    string
	Operation string
	Err       error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", exportsource.ErrSourceFailed.Error(), e.Operation, e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{exportsource.ErrSourceFailed, e.Err}
}
