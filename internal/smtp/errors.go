package smtp

import "fmt"

// ConnectionError reports a transport that could not be opened, or that
// failed or timed out mid-session.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("smtp: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a server reply whose code did not match the code
// expected at a checkpoint.
type ProtocolError struct {
	Command  string
	Expected int
	Actual   int
	Reply    string
}

func (e *ProtocolError) Error() string {
	if e.Reply == "" {
		return fmt.Sprintf("smtp: %s: expected %d, got %d", e.Command, e.Expected, e.Actual)
	}
	return fmt.Sprintf("smtp: %s: expected %d, got %d: %s", e.Command, e.Expected, e.Actual, e.Reply)
}

// Temporary reports whether the server answered with a transient (4xx) code.
func (e *ProtocolError) Temporary() bool {
	return e.Actual/100 == 4
}
