/* USB virtualization bridge - host side
 *
 * Transfer engine: allocation, submission, completion extraction,
 * await and cancellation for the four USB transfer types. This is
 * the component that bridges libusb's native callback threading
 * model onto the guest's synchronous submit/await split. The API is
 * an explicit two-step submit-then-await, since the guest may do
 * other work between submitting a transfer and awaiting its result.
 */

package bridge

import (
	"context"
	"sync/atomic"

	"github.com/usbbridge/hostbridge/internal/errkind"
	"github.com/usbbridge/hostbridge/internal/libusb"
)

// transferResult is what the completion callback hands to the
// awaiting goroutine through resultCh.
type transferResult struct {
	data []byte
	err  error
}

// transferRecord is the table record backing a TransferRef. The
// native buffer is "owned" by exactly one side at a time: the guest
// before Submit, and the completion path from Submit until
// AwaitTransfer returns. completed is a pointer
// because the record value itself moves through the table by copy
// (Push in, Delete out) while the completion callback holds its own
// reference to the same flag.
type transferRecord struct {
	native *libusb.Transfer

	typ      TransferType
	endpoint uint8
	setup    SetupPacket

	completed *atomic.Bool
	resultCh  chan transferResult

	submitted bool
}

// NewTransfer allocates a transfer. The buffer is 8+BufSize bytes
// for control transfers (the setup header occupies the first 8
// bytes), BufSize otherwise; isochronous transfers additionally
// distribute the buffer across NumPackets packets.
func (b *Bridge) NewTransfer(ref HandleRef, opts NewTransferOptions) (TransferRef, error) {
	hrec, ok := b.handles.Get(ref)
	if !ok {
		return TransferRef{}, errkind.New("new_transfer", errkind.NotFound)
	}

	bufLen := opts.BufSize
	if opts.Type == TransferControl {
		bufLen += 8
	}

	numIso := 0
	if opts.Type == TransferIsochronous {
		numIso = opts.NumPackets
	}

	native, err := libusb.AllocTransfer(bufLen, numIso)
	if err != nil {
		return TransferRef{}, err
	}

	native.Configure(hrec.native, opts.Endpoint, opts.Type.native(), opts.TimeoutMs, opts.StreamID)
	if opts.Type == TransferIsochronous {
		native.ConfigureIso(opts.NumPackets)
	}

	if opts.Type == TransferControl {
		packControlSetup(native.Buffer(), opts.Setup, opts.BufSize)
	}

	rec := transferRecord{
		native:    native,
		typ:       opts.Type,
		endpoint:  opts.Endpoint,
		setup:     opts.Setup,
		completed: new(atomic.Bool),
		resultCh:  make(chan transferResult, 1),
	}

	ref2, ok := b.transfers.Push(rec)
	if !ok {
		native.Free()
		return TransferRef{}, errkind.New("new_transfer", errkind.NoMem)
	}
	return ref2, nil
}

// packControlSetup writes the 8-byte control setup header little-
// endian into the front of the transfer buffer, per the USB control
// setup packet layout (bmRequestType, bRequest, wValue, wIndex,
// wLength).
func packControlSetup(buf []byte, s SetupPacket, bufSize int) {
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(bufSize)
	buf[7] = byte(bufSize >> 8)
}

// SubmitTransfer hands the transfer to the native backend. For an
// OUT transfer, data must fill the declared payload exactly; for an
// IN transfer, data must be empty - the guest reads the payload back
// from AwaitTransfer.
func (b *Bridge) SubmitTransfer(ref TransferRef, data []byte) error {
	rec, ok := b.transfers.Get(ref)
	if !ok {
		return errkind.New("submit_transfer", errkind.NotFound)
	}
	if rec.submitted {
		return errkind.New("submit_transfer", errkind.Busy)
	}

	in := b.transferIsIn(rec)

	buf := rec.native.Buffer()
	payload := buf
	if rec.typ == TransferControl {
		payload = buf[8:]
	}

	if in {
		if len(data) != 0 {
			return errkind.New("submit_transfer", errkind.InvalidParam)
		}
	} else {
		if len(data) != len(payload) {
			return errkind.New("submit_transfer", errkind.InvalidParam)
		}
		copy(payload, data)
	}

	rec.submitted = true
	err := rec.native.Submit(func(status libusb.Status, actualLength int, packetLengths []int) {
		b.completeTransfer(rec, status, actualLength, packetLengths)
	})
	if err != nil {
		rec.submitted = false
		return err
	}

	b.stats.transfersSubmitted.Add(1)
	return nil
}

func (b *Bridge) transferIsIn(rec *transferRecord) bool {
	if rec.typ == TransferControl {
		return rec.setup.isIn()
	}
	return endpointIsIn(rec.endpoint)
}

// completeTransfer runs on the event pump thread. It extracts the
// payload, frees the native transfer object (the
// buffer it owns is extracted into out first, so freeing afterward
// never races a still-pending read of it), and delivers the result
// to whichever goroutine is (or will be) blocked in AwaitTransfer.
func (b *Bridge) completeTransfer(rec *transferRecord, status libusb.Status, actualLength int, packetLengths []int) {
	rec.completed.Store(true)
	b.stats.transfersCompleted.Add(1)

	if status == libusb.StatusCancelled {
		b.stats.transfersCancelled.Add(1)
	}

	if status != libusb.StatusCompleted {
		rec.native.Free()
		rec.resultCh <- transferResult{err: errkind.New("transfer", libusb.StatusToKind(status))}
		return
	}

	buf := rec.native.Buffer()
	var out []byte

	switch rec.typ {
	case TransferControl:
		if rec.setup.isIn() {
			n := actualLength
			if n > len(buf)-8 {
				n = len(buf) - 8
			}
			out = append(out, buf[8:8+n]...)
		}
	case TransferIsochronous:
		// Sum actual_length across packets and, if non-zero, return
		// that many bytes from offset 0 - a contiguous read, not a
		// per-packet reconstruction, so a short packet's
		// untransferred tail is not skipped.
		total := 0
		for _, n := range packetLengths {
			total += n
		}
		if total > 0 {
			if total > len(buf) {
				total = len(buf)
			}
			out = append(out, buf[:total]...)
		}
	default: // Bulk, Interrupt
		if endpointIsIn(rec.endpoint) {
			n := actualLength
			if n > len(buf) {
				n = len(buf)
			}
			out = append(out, buf[:n]...)
		}
	}

	rec.native.Free()
	rec.resultCh <- transferResult{data: out}
}

// AwaitTransfer blocks until the transfer reaches a terminal state,
// or ctx is cancelled first. On context cancellation it requests
// native cancellation and still waits for the completion callback to
// fire before returning, so the transfer's buffer is never freed
// while still referenced by libusb. Consumes the handle either way.
func (b *Bridge) AwaitTransfer(ctx context.Context, ref TransferRef) ([]byte, error) {
	rec, ok := b.transfers.Get(ref)
	if !ok {
		return nil, errkind.New("await_transfer", errkind.NotFound)
	}
	if !rec.submitted {
		// Consumes the handle even on this failure path; the native
		// transfer was never handed to libusb, so it is freed here -
		// no completion callback will ever do it.
		if dead, ok := b.transfers.Delete(ref); ok {
			dead.native.Free()
		}
		return nil, errkind.New("await_transfer", errkind.NotFound)
	}

	var result transferResult
	select {
	case result = <-rec.resultCh:
	case <-ctx.Done():
		rec.native.Cancel()
		result = <-rec.resultCh
		if result.err == nil {
			result.err = errkind.New("await_transfer", errkind.Interrupted)
		}
	}

	b.transfers.Delete(ref)
	return result.data, result.err
}

// CancelTransfer requests cancellation of an in-flight transfer
// without waiting for the completion callback. Idempotent once the
// transfer has already completed.
func (b *Bridge) CancelTransfer(ref TransferRef) error {
	rec, ok := b.transfers.Get(ref)
	if !ok {
		return errkind.New("cancel_transfer", errkind.NotFound)
	}
	if rec.completed.Load() {
		return nil
	}
	return rec.native.Cancel()
}

// dropCancel is the table's release callback for a transfer still
// present when the bridge is closed. The record has no further role
// once deleted from the table, so dropCancel never blocks:
//   - never submitted: the native transfer was never handed to
//     libusb, so it is safe to free here directly.
//   - submitted and already completed: completeTransfer already
//     freed the native transfer: nothing left to do.
//   - submitted and still in flight: request cancellation, best
//     effort, and leave the native transfer for the eventual
//     completion callback to free - Bridge.Close cancels every
//     in-flight transfer before stopping the event pump, so that
//     callback still has a chance to run.
func (rec *transferRecord) dropCancel() {
	if !rec.submitted {
		rec.native.Free()
		return
	}
	if rec.completed.Load() {
		return
	}
	rec.native.Cancel()
}
