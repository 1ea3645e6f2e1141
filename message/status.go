package message

import (
	"strconv"
	"time"
)

// StatusCode is the outcome carried by a ResponseMsg. Zero is success, anything else is an error.
// Applications may mint their own codes starting at StatusUserBase.
type StatusCode uint16

const (
	StatusSuccess      StatusCode = 0
	StatusError        StatusCode = 1
	StatusTimeout      StatusCode = 2
	StatusNotFound     StatusCode = 3
	StatusForbidden    StatusCode = 4
	StatusInvalidParam StatusCode = 5

	StatusUserBase StatusCode = 6
)

func (c StatusCode) IsSuccess() bool { return c == StatusSuccess }

func (c StatusCode) IsError() bool { return !c.IsSuccess() }

func (c StatusCode) String() string {
	switch c {
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusForbidden:
		return "FORBIDDEN"
	case StatusInvalidParam:
		return "INVALID_PARAM"
	default:
		return "STATUS_" + strconv.Itoa(int(c))
	}
}

// Timestamp is wall-clock milliseconds since the Unix epoch.
// It is not monotonic across clock adjustments; consumers must tolerate small skew.
type Timestamp uint64

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp {
	ms := time.Now().UnixMilli()
	if ms < 0 {
		return 0
	}
	return Timestamp(ms)
}

func (t Timestamp) Millis() uint64 { return uint64(t) }

func (t Timestamp) Time() time.Time { return time.UnixMilli(int64(t)) }

func (t Timestamp) Before(o Timestamp) bool { return t < o }
