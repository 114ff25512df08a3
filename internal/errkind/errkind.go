/* USB virtualization bridge - host side
 *
 * Error taxonomy: a closed set of failure kinds surfaced to the guest.
 * The native backend's raw error codes never escape this package.
 */

package errkind

// Kind is the closed set of failure kinds a guest-visible bridge
// operation can return. Every native error code is mapped onto one
// of these; an unrecognized code maps to Other.
type Kind int

// Kind values. The set is closed: adding a variant means revisiting
// every native-to-Kind mapping table.
const (
	Io Kind = iota
	InvalidParam
	Access
	NoDevice
	NotFound
	Busy
	Timeout
	Overflow
	Pipe
	Interrupted
	NoMem
	NotSupported
	Other
)

// String returns a short, stable name for the kind.
func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case InvalidParam:
		return "invalid parameter"
	case Access:
		return "access denied"
	case NoDevice:
		return "no device"
	case NotFound:
		return "not found"
	case Busy:
		return "busy"
	case Timeout:
		return "timeout"
	case Overflow:
		return "overflow"
	case Pipe:
		return "pipe stalled"
	case Interrupted:
		return "interrupted"
	case NoMem:
		return "out of memory"
	case NotSupported:
		return "not supported"
	default:
		return "other error"
	}
}

// Error wraps a Kind with the operation that produced it. It is the
// concrete error type every bridge operation returns; callers that
// only care about the Kind can type-assert or use errors.As.
type Error struct {
	Op   string // Operation name, e.g. "claim_interface"
	Kind Kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Op + ": " + e.Kind.String()
}

// New builds a bridge error for the given operation and kind.
func New(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

// Is reports whether err carries the given Kind, regardless of Op.
func Is(err error, kind Kind) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning Other if err is not
// a *Error (e.g. a context.DeadlineExceeded from an unrelated layer).
func KindOf(err error) Kind {
	if err == nil {
		return -1
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Other
}
