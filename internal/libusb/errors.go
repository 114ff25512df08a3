/* USB virtualization bridge - host side
 *
 * Native error code mapping. Every libusb_error and every
 * libusb_transfer_status this backend can observe is mapped onto
 * the bridge's closed errkind.Kind set; raw codes never escape this
 * package.
 */

package libusb

// #cgo pkg-config: libusb-1.0
// #include <libusb.h>
import "C"

import (
	"github.com/usbbridge/hostbridge/internal/errkind"
)

// mapErrorCode maps a libusb_error return code (always <= 0 on
// failure) onto a Kind. Unknown codes map to Other.
func mapErrorCode(rc C.int) errkind.Kind {
	switch rc {
	case C.LIBUSB_ERROR_IO:
		return errkind.Io
	case C.LIBUSB_ERROR_INVALID_PARAM:
		return errkind.InvalidParam
	case C.LIBUSB_ERROR_ACCESS:
		return errkind.Access
	case C.LIBUSB_ERROR_NO_DEVICE:
		return errkind.NoDevice
	case C.LIBUSB_ERROR_NOT_FOUND:
		return errkind.NotFound
	case C.LIBUSB_ERROR_BUSY:
		return errkind.Busy
	case C.LIBUSB_ERROR_TIMEOUT:
		return errkind.Timeout
	case C.LIBUSB_ERROR_OVERFLOW:
		return errkind.Overflow
	case C.LIBUSB_ERROR_PIPE:
		return errkind.Pipe
	case C.LIBUSB_ERROR_INTERRUPTED:
		return errkind.Interrupted
	case C.LIBUSB_ERROR_NO_MEM:
		return errkind.NoMem
	case C.LIBUSB_ERROR_NOT_SUPPORTED:
		return errkind.NotSupported
	default:
		return errkind.Other
	}
}

// newErr builds a bridge error from a raw libusb return code.
func newErr(op string, rc C.int) error {
	return errkind.New(op, mapErrorCode(rc))
}

// StatusToKind maps a completion Status (reported only in the
// completion callback) onto a Kind. StatusCompleted has no
// corresponding Kind - callers must handle it before consulting
// this mapping.
func StatusToKind(status Status) errkind.Kind {
	switch status {
	case StatusTimedOut:
		return errkind.Timeout
	case StatusCancelled:
		return errkind.Interrupted
	case StatusStall:
		return errkind.Pipe
	case StatusNoDevice:
		return errkind.NoDevice
	case StatusOverflow:
		return errkind.Overflow
	case StatusError:
		return errkind.Io
	default:
		return errkind.Other
	}
}
