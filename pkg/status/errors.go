package status

import "fmt"

// Source names used in ParseError.
const (
	SourceStub = "stub_status"
	SourceJSON = "json"
)

// ParseError reports malformed status data. It is always recoverable: the
// caller keeps the snapshot it already had.
type ParseError struct {
	Source string
	Line   int // 1-based; 0 when not line-oriented
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "status: parse " + e.Source
	if e.Line > 0 {
		msg += fmt.Sprintf(" line %d", e.Line)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }
