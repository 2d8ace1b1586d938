package columnar

import "fmt"

// WriteError is returned when the destination already holds data and the
// overwrite policy forbids touching it.
type WriteError struct {
	Dest     string
	Existing []string
	Policy   Policy
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("destination %s already contains %d object(s) and overwrite policy is %q",
		e.Dest, len(e.Existing), e.Policy)
}
