package toolpath

import (
	"errors"
	"fmt"
)

var ErrParse = errors.New("toolpath parse error")

// ParseError reports a malformed record and the line it was found on.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }
