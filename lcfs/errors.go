package lcfs

import (
	"errors"

	"github.com/rarydzu/lcfs/lcfs/devreg"
	"github.com/rarydzu/lcfs/lcfs/filetable"
	"github.com/rarydzu/lcfs/lcfs/transport"
)

var (
	ErrNotOpen       = filetable.ErrNotOpen
	ErrAlreadyOpen   = filetable.ErrAlreadyOpen
	ErrInvalidOffset = filetable.ErrInvalidOffset
	ErrOutOfSpace    = devreg.ErrOutOfSpace
	ErrConnection    = transport.ErrConnection
	ErrIO            = transport.ErrIO

	// ErrDeviceFailure is returned when the bus answers with a failure
	// status or a response that does not match the request.
	ErrDeviceFailure = errors.New("device failure")
)
