package batch

import "fmt"

// OutputDirError reports a batch output directory that could not be created.
type OutputDirError struct {
	Dir string
	Err error
}

func (e *OutputDirError) Error() string {
	return fmt.Sprintf("creating output directory %s: %v", e.Dir, e.Err)
}

func (e *OutputDirError) Unwrap() error {
	return e.Err
}
