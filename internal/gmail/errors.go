package gmail

import "fmt"

// RemoteError reports a failed Gmail API call together with the operation
// that failed, so callers can surface which provider call went wrong.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gmail %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func remoteErr(op string, err error) error {
	return &RemoteError{Op: op, Err: err}
}
