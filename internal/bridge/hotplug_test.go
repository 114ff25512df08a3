package bridge

import (
	"testing"

	"github.com/google/gousb"

	"github.com/usbbridge/hostbridge/internal/errkind"
	"github.com/usbbridge/hostbridge/internal/hotplug"
	"github.com/usbbridge/hostbridge/internal/policy"
)

// The entries below carry no native device (there is no USB backend
// in a unit test); PollEvents' handle-production path is the same
// either way, and operations on the resulting handles fail NoDevice
// exactly as they would for a real departed device.

func testIdentity() policy.Identity {
	return policy.Identity{Vendor: gousb.ID(0x1234), Product: gousb.ID(0x5678)}
}

func TestPollEventsDisabled(t *testing.T) {
	b := New(Options{})
	hotplug.Global().Drain()

	hotplug.Global().Enqueue(hotplug.Entry{Event: hotplug.Arrived, Identity: testIdentity()})
	defer hotplug.Global().Drain()

	if evs := b.PollEvents(); evs != nil {
		t.Fatalf("PollEvents before EnableHotplug returned %d events, want none", len(evs))
	}
}

func TestPollEventsMintsHandleForEveryEvent(t *testing.T) {
	b := New(Options{})
	b.hotplugEnabled.Store(true)
	hotplug.Global().Drain()

	id := testIdentity()
	hotplug.Global().Enqueue(hotplug.Entry{Event: hotplug.Arrived, Identity: id, Location: "bus 1 addr 7"})
	hotplug.Global().Enqueue(hotplug.Entry{Event: hotplug.Left, Identity: id, Location: "bus 1 addr 7"})

	evs := b.PollEvents()
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}

	if evs[0].Kind != HotplugArrived || evs[1].Kind != HotplugLeft {
		t.Fatalf("events out of order: %v, %v", evs[0].Kind, evs[1].Kind)
	}

	for i, ev := range evs {
		if !ev.Handle.Valid() {
			t.Errorf("event %d (%v) carries an invalid handle", i, ev.Kind)
		}
		if ev.Identity != id {
			t.Errorf("event %d identity = %v, want %v", i, ev.Identity, id)
		}
		if _, ok := b.devices.Get(ev.Handle); !ok {
			t.Errorf("event %d handle does not resolve in the device table", i)
		}
	}
	if evs[0].Handle == evs[1].Handle {
		t.Error("both events returned the same handle")
	}

	if again := b.PollEvents(); len(again) != 0 {
		t.Fatalf("second poll returned %d events, want none", len(again))
	}
}

func TestPollEventsDepartedHandleFailsNoDevice(t *testing.T) {
	b := New(Options{})
	b.hotplugEnabled.Store(true)
	hotplug.Global().Drain()

	hotplug.Global().Enqueue(hotplug.Entry{Event: hotplug.Left, Identity: testIdentity()})

	evs := b.PollEvents()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}

	if _, err := b.Open(evs[0].Handle); errkind.KindOf(err) != errkind.NoDevice {
		t.Fatalf("Open on a departed device: got %v, want NoDevice", err)
	}
	if _, err := b.GetActiveConfigurationDescriptor(evs[0].Handle); errkind.KindOf(err) != errkind.NoDevice {
		t.Fatalf("descriptor fetch on a departed device: got %v, want NoDevice", err)
	}
}
