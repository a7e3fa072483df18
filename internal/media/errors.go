package media

import (
	"errors"
	"fmt"
	"io/fs"
)

// Status codes returned across the host boundary. The values match the
// negative error codes of libavutil so hosts built against the C wrapper
// see the same integers.
const (
	StatusOK              = 0
	StatusNoEntry         = -2
	StatusIO              = -5
	StatusAgain           = -11
	StatusNoMemory        = -12
	StatusInvalid         = -22
	StatusBufferTooSmall  = -1397118274
	StatusDecoderNotFound = -1128613112
	StatusEncoderNotFound = -1129203192
	StatusStreamNotFound  = -1381258232
	StatusInvalidData     = -1094995529
	StatusEOF             = -541478725
	StatusUnknown         = -1313558101
)

// Sentinel errors used by collaborators and the pipeline.
var (
	ErrAgain           = errors.New("resource temporarily unavailable")
	ErrEOF             = errors.New("end of file")
	ErrInvalid         = errors.New("invalid argument")
	ErrInvalidData     = errors.New("invalid data found when processing input")
	ErrNoMemory        = errors.New("cannot allocate memory")
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrDecoderNotFound = errors.New("decoder not found")
	ErrEncoderNotFound = errors.New("encoder not found")
	ErrStreamNotFound  = errors.New("stream not found")
)

var sentinelStatus = []struct {
	err    error
	status int
}{
	{ErrAgain, StatusAgain},
	{ErrEOF, StatusEOF},
	{ErrInvalid, StatusInvalid},
	{ErrInvalidData, StatusInvalidData},
	{ErrNoMemory, StatusNoMemory},
	{ErrBufferTooSmall, StatusBufferTooSmall},
	{ErrDecoderNotFound, StatusDecoderNotFound},
	{ErrEncoderNotFound, StatusEncoderNotFound},
	{ErrStreamNotFound, StatusStreamNotFound},
	{fs.ErrNotExist, StatusNoEntry},
}

// Error carries an explicit status code alongside the failing operation.
type Error struct {
	Code int
	Op   string
	Err  error
}

// NewError wraps err with an operation name and status code.
func NewError(code int, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps an error to the integer reported to hosts: 0 for nil, the
// code of the outermost *Error when present, the code of a known sentinel,
// and StatusUnknown otherwise.
func Status(err error) int {
	if err == nil {
		return StatusOK
	}
	var me *Error
	if errors.As(err, &me) && me.Code < 0 {
		return me.Code
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return StatusIO
	}
	return StatusUnknown
}
