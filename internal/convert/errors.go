package convert

import "fmt"

// ConversionError reports a failed conversion of one document. It never aborts
// the rest of the batch.
type ConversionError struct {
	Document string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("converting %s: %v", e.Document, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// SessionError reports a conversion engine that could not be acquired for a batch.
type SessionError struct {
	Engine string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("starting %s conversion session: %v", e.Engine, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
