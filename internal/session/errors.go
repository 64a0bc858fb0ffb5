package session

import (
	"errors"
	"fmt"
)

// segmentLimitError ends a session whose output is still truncated after the
// maximum number of segments.
type segmentLimitError struct{ max int }

func (e segmentLimitError) Error() string {
	return fmt.Sprintf("response still truncated after %d segments", e.max)
}

// IsSegmentLimitExceeded reports whether err is the segment bound.
func IsSegmentLimitExceeded(err error) bool {
	var e segmentLimitError
	return errors.As(err, &e)
}

// invalidRequestError reports a request the controller cannot route.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// IsInvalidRequest reports whether err is a routing or validation failure.
func IsInvalidRequest(err error) bool {
	var e invalidRequestError
	return errors.As(err, &e)
}
