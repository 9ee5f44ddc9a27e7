package routing

import (
	"fmt"

	"github.com/nandth/model-router-ai/services"
)

// Stage names reported on failures
const (
	StageDirect = "direct"
	StageA      = "stage_a"
	StageB      = "stage_b"
)

// ExecutionError is the single failure surfaced when a provider call aborts
// the pipeline. It carries the usage accumulated before the failure; no
// partial answer is ever returned with it.
type ExecutionError struct {
	Stage    string
	Decision *Decision
	Usage    StageUsage
	Err      error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("routing execution failed at %s: %v", e.Stage, e.Err)
}

// Unwrap implements error unwrapping
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// As lets callers classify the failure as a services execution error
func (e *ExecutionError) As(target interface{}) bool {
	d, ok := target.(**services.DomainError)
	if !ok {
		return false
	}
	*d = services.NewDomainError(services.ErrorTypeExecution, "routing execution failed", e.Err).
		WithDetail("stage", e.Stage)
	return true
}
