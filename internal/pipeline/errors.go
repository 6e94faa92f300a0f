package pipeline

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/eltpipe/internal/asset"
)

// DuplicateAssetError is returned when two steps declare the same asset key.
type DuplicateAssetError struct {
	Key    asset.Key
	First  string
	Second string
}

func (e *DuplicateAssetError) Error() string {
	if e.First == e.Second {
		return fmt.Sprintf("asset %s is declared twice by step %s", e.Key, e.First)
	}
	return fmt.Sprintf("asset %s is produced by both %s and %s", e.Key, e.First, e.Second)
}

// UnknownJobError is returned when a job name is not defined.
type UnknownJobError struct {
	Name      string
	Available []string
}

func (e *UnknownJobError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown job %q", e.Name)
	}
	return fmt.Sprintf("unknown job %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// UnknownSelectionError is returned when a selection term matches no asset.
type UnknownSelectionError struct {
	Term string
}

func (e *UnknownSelectionError) Error() string {
	return fmt.Sprintf("selection %q matches no asset", e.Term)
}

// StepError wraps the failure of one step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
