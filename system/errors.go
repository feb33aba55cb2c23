package system

import (
	"errors"
	"fmt"
)

var (
	// ErrStructurallySingular means the first Jacobian factorization of a
	// solve failed, typically an under-constrained assembly, or the shifted
	// eigen operator is singular.
	ErrStructurallySingular = errors.New("system is structurally singular")

	// ErrAssemblyMismatch means a System was used with an assembly whose
	// connectivity differs from the one it was allocated for.
	ErrAssemblyMismatch = errors.New("assembly connectivity does not match system")

	// ErrNotDynamic means a dynamic analysis was requested from a static
	// System, or the assembly carries no inertia.
	ErrNotDynamic = errors.New("system was not allocated for dynamic analysis")

	// ErrNoOperator means left eigenvectors were requested before an eigen
	// solve linearized the System.
	ErrNoOperator = errors.New("no linearized operator; run SolveEigen first")
)

// ValidationError reports conditions that are inconsistent with the system layout
type ValidationError struct {
	Point int
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("system: point %d: %s", e.Point, e.Msg)
}
