/* USB virtualization bridge - host side
 *
 * Native asynchronous transfer primitive: allocation, buffer
 * ownership, submission, cancellation and completion dispatch.
 * This is the thin wrapper the bridge's transfer engine is built on
 * top of; it knows nothing about rendezvous channels or the
 * guest-visible submit/await split - that is the bridge package's
 * job. Covers all four transfer types, with an explicit completion
 * callback rather than a completion channel, since the bridge needs
 * to do more work (buffer hand-back, rendezvous send) than waiting
 * on a channel.
 */

package libusb

// #cgo pkg-config: libusb-1.0
// #include <stdlib.h>
// #include <string.h>
// #include <libusb.h>
//
// void bridgeTransferCallback(struct libusb_transfer *xfer);
import "C"

import (
	"sync"
	"unsafe"
)

// TransferType selects the kind of USB transfer.
type TransferType int

// TransferType values.
const (
	Control TransferType = iota
	Bulk
	Interrupt
	Isochronous
)

func (t TransferType) nativeType() C.uchar {
	switch t {
	case Control:
		return C.LIBUSB_TRANSFER_TYPE_CONTROL
	case Bulk:
		return C.LIBUSB_TRANSFER_TYPE_BULK
	case Interrupt:
		return C.LIBUSB_TRANSFER_TYPE_INTERRUPT
	default:
		return C.LIBUSB_TRANSFER_TYPE_ISOCHRONOUS
	}
}

// Status is a Go-native mirror of libusb_transfer_status, kept
// separate from the raw C type so packages outside this cgo
// boundary (notably the bridge's transfer engine) can reference it.
type Status int

// Status values, mirroring libusb_transfer_status.
const (
	StatusCompleted Status = iota
	StatusError
	StatusTimedOut
	StatusCancelled
	StatusStall
	StatusNoDevice
	StatusOverflow
)

func mapStatus(s C.libusb_transfer_status) Status {
	switch s {
	case C.LIBUSB_TRANSFER_COMPLETED:
		return StatusCompleted
	case C.LIBUSB_TRANSFER_TIMED_OUT:
		return StatusTimedOut
	case C.LIBUSB_TRANSFER_CANCELLED:
		return StatusCancelled
	case C.LIBUSB_TRANSFER_STALL:
		return StatusStall
	case C.LIBUSB_TRANSFER_NO_DEVICE:
		return StatusNoDevice
	case C.LIBUSB_TRANSFER_OVERFLOW:
		return StatusOverflow
	default:
		return StatusError
	}
}

// CompletionFunc is invoked once, on the event pump thread, when a
// transfer completes (successfully, by timeout, by cancellation or
// by error). packetLengths is non-empty only for isochronous
// transfers and reports each packet's actual_length.
type CompletionFunc func(status Status, actualLength int, packetLengths []int)

// Transfer wraps a libusb_transfer plus the C-allocated buffer it
// points at. The buffer is allocated with C.malloc, not Go's
// allocator: libusb holds a raw pointer to it for the lifetime of
// an in-flight submission, which can span an arbitrary number of Go
// scheduler preemptions on the event-pump thread, so it must never
// be backed by a Go-managed, potentially-moved allocation.
type Transfer struct {
	native  *C.struct_libusb_transfer
	cBuf    unsafe.Pointer
	bufLen  int
	numIso  int
	cb      CompletionFunc
}

var (
	transferRegistry sync.Map // *C.struct_libusb_transfer -> *Transfer
)

// AllocTransfer allocates a native transfer with room for numIso
// isochronous packet descriptors (0 for non-isochronous transfers)
// and a data buffer of bufLen bytes.
func AllocTransfer(bufLen, numIso int) (*Transfer, error) {
	native := C.libusb_alloc_transfer(C.int(numIso))
	if native == nil {
		return nil, newErr("libusb_alloc_transfer", C.LIBUSB_ERROR_NO_MEM)
	}

	var cBuf unsafe.Pointer
	if bufLen > 0 {
		cBuf = C.malloc(C.size_t(bufLen))
		if cBuf == nil {
			C.libusb_free_transfer(native)
			return nil, newErr("malloc", C.LIBUSB_ERROR_NO_MEM)
		}
		C.memset(cBuf, 0, C.size_t(bufLen))
	}

	return &Transfer{native: native, cBuf: cBuf, bufLen: bufLen, numIso: numIso}, nil
}

// Buffer returns a Go slice aliasing the transfer's native buffer.
// Callers must stop holding onto this slice once Submit succeeds,
// and may resume using it only after the completion callback has
// fired - the backend owns the buffer while the transfer is in
// flight.
func (t *Transfer) Buffer() []byte {
	if t.bufLen == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(t.cBuf), t.bufLen)
}

// Configure fills in the transfer's endpoint, type and timeout, and
// (for streamed bulk endpoints) its stream id.
func (t *Transfer) Configure(h *DeviceHandle, endpoint uint8, typ TransferType, timeoutMs uint32, streamID uint32) {
	t.native.dev_handle = h.ptr
	t.native._type = typ.nativeType()
	t.native.endpoint = C.uchar(endpoint)
	t.native.timeout = C.uint(timeoutMs)
	t.native.buffer = (*C.uchar)(t.cBuf)
	t.native.length = C.int(t.bufLen)
	t.native.callback = C.libusb_transfer_cb_fn(unsafe.Pointer(C.bridgeTransferCallback))

	if streamID != 0 && typ == Bulk {
		C.libusb_transfer_set_stream_id(t.native, C.uint32_t(streamID))
	}
}

// ConfigureIso distributes the buffer across numIso packets: each
// packet gets floor(bufLen/numIso) bytes, and the last packet
// absorbs the remainder.
func (t *Transfer) ConfigureIso(numPackets int) {
	if numPackets <= 0 {
		return
	}
	t.native.num_iso_packets = C.int(numPackets)

	base := t.bufLen / numPackets
	remainder := t.bufLen - base*(numPackets-1)

	lengths := (*[1 << 20]C.struct_libusb_iso_packet_descriptor)(
		unsafe.Pointer(&t.native.iso_packet_desc[0]))[:numPackets:numPackets]

	for i := 0; i < numPackets; i++ {
		if i == numPackets-1 {
			lengths[i].length = C.uint(remainder)
		} else {
			lengths[i].length = C.uint(base)
		}
	}
}

// Submit hands the transfer to the backend. cb is invoked from the
// event pump thread exactly once, when the transfer reaches a
// terminal state. On failure, Submit does not register cb - the
// caller must treat the transfer as not in flight.
func (t *Transfer) Submit(cb CompletionFunc) error {
	t.cb = cb
	transferRegistry.Store(t.native, t)

	rc := C.libusb_submit_transfer(t.native)
	if rc != 0 {
		transferRegistry.Delete(t.native)
		t.cb = nil
		return newErr("libusb_submit_transfer", rc)
	}
	return nil
}

// Cancel requests cancellation of an in-flight transfer. The actual
// completion still arrives via the registered callback, reporting
// LIBUSB_TRANSFER_CANCELLED.
func (t *Transfer) Cancel() error {
	rc := C.libusb_cancel_transfer(t.native)
	if rc != 0 {
		return newErr("libusb_cancel_transfer", rc)
	}
	return nil
}

// ActualLength returns the number of bytes actually transferred, as
// reported by the most recent completion.
func (t *Transfer) ActualLength() int {
	return int(t.native.actual_length)
}

// Free releases the native transfer and its buffer. Must only be
// called after the completion callback has fired (or the transfer
// was never submitted).
func (t *Transfer) Free() {
	transferRegistry.Delete(t.native)
	if t.cBuf != nil {
		C.free(t.cBuf)
		t.cBuf = nil
	}
	C.libusb_free_transfer(t.native)
	t.native = nil
}

// bridgeTransferCallback is libusb's single process-wide transfer
// completion trampoline. cgo cannot export per-instance closures,
// so it looks the Go-side Transfer up by native pointer and invokes
// its registered CompletionFunc.
//
//export bridgeTransferCallback
func bridgeTransferCallback(native *C.struct_libusb_transfer) {
	v, ok := transferRegistry.Load(native)
	if !ok {
		return
	}
	t := v.(*Transfer)

	var packetLengths []int
	if t.numIso > 0 {
		descs := (*[1 << 20]C.struct_libusb_iso_packet_descriptor)(
			unsafe.Pointer(&native.iso_packet_desc[0]))[:t.numIso:t.numIso]
		packetLengths = make([]int, t.numIso)
		for i, d := range descs {
			packetLengths[i] = int(d.actual_length)
		}
	}

	if t.cb != nil {
		t.cb(mapStatus(native.status), int(native.actual_length), packetLengths)
	}
}
