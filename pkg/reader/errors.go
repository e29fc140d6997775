package reader

import (
	"errors"

	"github.com/gregLibert/emrtd/pkg/access"
	"github.com/gregLibert/emrtd/pkg/lds"
	"github.com/gregLibert/emrtd/pkg/mrz"
	"github.com/gregLibert/emrtd/pkg/sm"
	"github.com/gregLibert/emrtd/pkg/transport"
)

// ErrInvalidData is the single failure reported to callers of Read.
var ErrInvalidData = errors.New("local invalid data")

// ErrorKind names the internal cause of a failed attempt. It only appears in logs.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalidKeyMaterial
	KindTransportUnavailable
	KindTransportIO
	KindAuthenticationFailed
	KindMalformedDataGroup
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidKeyMaterial:
		return "invalid-key-material"
	case KindTransportUnavailable:
		return "transport-unavailable"
	case KindTransportIO:
		return "transport-io"
	case KindAuthenticationFailed:
		return "authentication-failed"
	case KindMalformedDataGroup:
		return "malformed-data-group"
	default:
		return "unknown"
	}
}

// Classify maps an error from the pipeline to its kind.
//
// Transport failures win over the layer that observed them: a link lost
// during BAC is reported as transport-io, not as an authentication failure.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, mrz.ErrInvalidKeyMaterial):
		return KindInvalidKeyMaterial
	case errors.Is(err, transport.ErrUnavailable):
		return KindTransportUnavailable
	case errors.Is(err, transport.ErrIO), errors.Is(err, sm.ErrSecureMessaging):
		return KindTransportIO
	case errors.Is(err, access.ErrAuthenticationFailed):
		return KindAuthenticationFailed
	case errors.Is(err, lds.ErrMalformedDataGroup):
		return KindMalformedDataGroup
	default:
		return KindUnknown
	}
}
