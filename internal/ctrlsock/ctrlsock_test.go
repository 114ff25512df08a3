package ctrlsock

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/usbbridge/hostbridge/internal/bridge"
)

func TestFormatStats(t *testing.T) {
	stats := bridge.Stats{
		DevicesEnumerated:  3,
		DevicesRejected:    1,
		TransfersSubmitted: 10,
		TransfersCompleted: 9,
		TransfersCancelled: 1,
		HotplugDelivered:   2,
	}

	text := string(FormatStats(stats))
	for _, want := range []string{"devices enumerated: 3", "devices rejected:   1",
		"transfers submitted: 10", "transfers completed: 9",
		"transfers cancelled: 1", "hotplug delivered:   2"} {
		if !strings.Contains(text, want) {
			t.Errorf("FormatStats output missing %q:\n%s", want, text)
		}
	}
}

func TestServerStartStopAndFetchStatus(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "ctrl.sock")

	srv := NewServer(sockPath, func() []byte { return []byte("ok\n") })
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %s", err)
	}
	defer srv.Stop()

	time.Sleep(20 * time.Millisecond)

	body, err := FetchStatus(sockPath)
	if err != nil {
		t.Fatalf("FetchStatus: %s", err)
	}
	if string(body) != "ok\n" {
		t.Fatalf("got %q, want %q", body, "ok\n")
	}
}

func TestFetchStatusNoRunningDaemon(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "absent.sock")
	// http.Client wraps transport errors in *url.Error, so unwrap.
	if _, err := FetchStatus(sockPath); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("got %v, want ErrNotRunning", err)
	}
}
