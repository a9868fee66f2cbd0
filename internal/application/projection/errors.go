package projection

import (
	"errors"
	"fmt"

	"github.com/erp/catalogsync/internal/domain/projection"
)

// BuildError reports that no projection body could be produced for one scope
type BuildError struct {
	Key projection.Key
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build projection %s: %v", e.Key, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

var errEmptyCode = errors.New("entity code is empty")
