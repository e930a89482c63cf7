package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrLicenseNotFound means the caller supplied an id that resolves to nothing.
	ErrLicenseNotFound = errors.New("license not found")

	// ErrPersistence means a repository call failed and the decision is unknown.
	// It is never a denial.
	ErrPersistence = errors.New("persistence failure")
)

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
