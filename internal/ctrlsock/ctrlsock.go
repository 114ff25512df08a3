/* USB virtualization bridge - host side
 *
 * Control socket: a tiny HTTP server on top of a Unix domain socket,
 * used only to ask a running usbbridged for its status.
 */

package ctrlsock

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/usbbridge/hostbridge/internal/bridge"
)

// StatusFunc produces the current status text served at /status.
type StatusFunc func() []byte

// Server listens on a Unix socket and serves /status.
type Server struct {
	addr   *net.UnixAddr
	http   http.Server
	status StatusFunc
}

// NewServer creates a control socket server bound to path, serving
// whatever status produces on each request.
func NewServer(path string, status StatusFunc) *Server {
	s := &Server{
		addr:   &net.UnixAddr{Name: path, Net: "unix"},
		status: status,
	}
	s.http.Handler = http.HandlerFunc(s.handle)
	return s
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, r.Method+": method not supported", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/status" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(s.status())
}

// Start begins serving in the background. The socket is world
// writable so any local user can query status.
func (s *Server) Start() error {
	os.Remove(s.addr.Name)

	listener, err := net.ListenUnix("unix", s.addr)
	if err != nil {
		return err
	}
	os.Chmod(s.addr.Name, 0777)

	go s.http.Serve(listener)
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	s.http.Close()
}

// ErrNotRunning is returned by Dial when no daemon is listening.
var ErrNotRunning = fmt.Errorf("ctrlsock: no running usbbridged daemon")

// Dial connects to a running daemon's control socket.
func Dial(path string) (net.Conn, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		if neterr, ok := err.(*net.OpError); ok {
			if syserr, ok := neterr.Err.(*os.SyscallError); ok {
				switch syserr.Err {
				case syscall.ECONNREFUSED, syscall.ENOENT:
					return nil, ErrNotRunning
				}
			}
		}
		return nil, err
	}
	return conn, nil
}

// FetchStatus dials path and retrieves the daemon's current status
// text.
func FetchStatus(path string) ([]byte, error) {
	transport := &http.Transport{
		Dial: func(_, _ string) (net.Conn, error) { return Dial(path) },
	}
	client := &http.Client{Transport: transport}

	rsp, err := client.Get("http://localhost/status")
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	return io.ReadAll(rsp.Body)
}

// FormatStats renders bridge.Stats as the plain-text status body.
func FormatStats(stats bridge.Stats) []byte {
	return []byte(fmt.Sprintf(
		"devices enumerated: %d\n"+
			"devices rejected:   %d\n"+
			"transfers submitted: %d\n"+
			"transfers completed: %d\n"+
			"transfers cancelled: %d\n"+
			"hotplug delivered:   %d\n",
		stats.DevicesEnumerated, stats.DevicesRejected,
		stats.TransfersSubmitted, stats.TransfersCompleted,
		stats.TransfersCancelled, stats.HotplugDelivered))
}
