package factor

import "fmt"

// ValidationError marks malformed parameters: bad factor identifiers,
// unknown score columns, start after end. Raised before any data is read.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// DataAvailabilityError marks an empty score feed or an unresolvable date
// range. The run aborts without writing results.
type DataAvailabilityError struct {
	Msg string
}

func (e *DataAvailabilityError) Error() string { return e.Msg }
