package warehouse

import "fmt"

// NotFoundError is returned when no artifact matches the selection. No job
// has been submitted when it is returned.
type NotFoundError struct {
	Location string
	Pattern  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no artifacts matching %q found in %s", e.Pattern, e.Location)
}

// IngestError is returned when a load job ends in the failed state. Err is
// the diagnostic reported by the warehouse.
type IngestError struct {
	Table string
	JobID string
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("load job %s into %s failed: %v", e.JobID, e.Table, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}
