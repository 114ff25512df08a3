/* USB virtualization bridge - host side
 *
 * usbbridged: the long-running bridge daemon. Mode dispatch
 * (standalone/debug/check/status) plus policy, logging and
 * configuration flags.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/usbbridge/hostbridge/internal/bridge"
	"github.com/usbbridge/hostbridge/internal/bridgeconf"
	"github.com/usbbridge/hostbridge/internal/buslog"
	"github.com/usbbridge/hostbridge/internal/ctrlsock"
	"github.com/usbbridge/hostbridge/internal/daemonize"
	"github.com/usbbridge/hostbridge/internal/policy"
	"github.com/usbbridge/hostbridge/internal/quirks"
)

const usageText = `Usage:
    %s mode [options]

Modes are:
    standalone  - run forever, pumping USB events in the background
    debug       - like standalone, but stdio stays open so logs
                  reach the console, and -bg is ignored
    check       - check configuration and exit
    status      - print running daemon's status and exit

Options are:
    -bg              run in background (ignored in debug mode)
    -conf path       path to configuration file
    -allow VVVV:PPPP repeatable allow-list entry (exclusive with -deny)
    -deny  VVVV:PPPP repeatable deny-list entry
    -log   LEVEL     error|info|debug|trace-usb|all
`

type runMode int

const (
	modeDebug runMode = iota
	modeStandalone
	modeCheck
	modeStatus
)

type params struct {
	mode       runMode
	background bool
	confPath   string
	allow      []string
	deny       []string
	logLevel   string
}

func usage() {
	fmt.Printf(usageText, os.Args[0])
	os.Exit(0)
}

func usageError(format string, args ...interface{}) {
	if format != "" {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	fmt.Fprintf(os.Stderr, "Try %s -h for more information\n", os.Args[0])
	os.Exit(1)
}

func parseArgv() params {
	p := params{mode: modeDebug}
	modes := 0

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-h", "-help", "--help":
			usage()
		case "standalone":
			p.mode, modes = modeStandalone, modes+1
		case "debug":
			p.mode, modes = modeDebug, modes+1
		case "check":
			p.mode, modes = modeCheck, modes+1
		case "status":
			p.mode, modes = modeStatus, modes+1
		case "-bg":
			p.background = true
		case "-conf":
			i++
			if i >= len(args) {
				usageError("-conf requires a path")
			}
			p.confPath = args[i]
		case "-allow":
			i++
			if i >= len(args) {
				usageError("-allow requires VVVV:PPPP")
			}
			p.allow = append(p.allow, args[i])
		case "-deny":
			i++
			if i >= len(args) {
				usageError("-deny requires VVVV:PPPP")
			}
			p.deny = append(p.deny, args[i])
		case "-log":
			i++
			if i >= len(args) {
				usageError("-log requires a level")
			}
			p.logLevel = args[i]
		default:
			usageError("Invalid argument %s", arg)
		}
	}

	if modes > 1 {
		usageError("Conflicting run modes")
	}
	if len(p.allow) > 0 && len(p.deny) > 0 {
		usageError("-allow and -deny are mutually exclusive")
	}
	if p.mode == modeDebug {
		p.background = false
	}

	return p
}

func parseLogLevel(s string) (buslog.LogLevel, error) {
	var mask buslog.LogLevel
	for _, tok := range strings.Split(s, ",") {
		switch strings.TrimSpace(tok) {
		case "":
		case "error":
			mask |= buslog.Error
		case "info":
			mask |= buslog.Info | buslog.Error
		case "debug":
			mask |= buslog.Debug | buslog.Info | buslog.Error
		case "trace-usb":
			mask |= buslog.TraceUSB | buslog.Debug | buslog.Info | buslog.Error
		case "all":
			mask |= buslog.All
		default:
			return 0, fmt.Errorf("invalid log level %q", tok)
		}
	}
	return mask, nil
}

func buildPolicy(conf bridgeconf.Configuration, p params) *policy.Filter {
	if len(p.allow) > 0 {
		return policy.New(policy.Allow, p.allow)
	}
	if len(p.deny) > 0 {
		return policy.New(policy.Deny, p.deny)
	}
	return conf.Filter()
}

func main() {
	p := parseArgv()

	confPath := p.confPath
	if confPath == "" {
		confPath = "/etc/usbbridge/" + bridgeconf.FileName
	}

	// A missing file means defaults; a malformed one is fatal.
	conf := bridgeconf.Default()
	if loaded, err := bridgeconf.Load(confPath); err == nil {
		conf = loaded
	} else if !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if p.mode == modeStatus {
		text, err := ctrlsock.FetchStatus(conf.SocketPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(text)
		return
	}

	consoleMask := conf.LogConsole
	if p.logLevel != "" {
		mask, err := parseLogLevel(p.logLevel)
		if err != nil {
			usageError("%s", err)
		}
		consoleMask = mask
	}

	// Logs go to the console only; the file-log and file-path
	// settings are loaded but no log file is written.
	log := buslog.NewConsole(consoleMask)

	if p.mode == modeCheck {
		fmt.Println("Configuration file:", confPath, "OK")
		os.Exit(0)
	}

	if p.background {
		if err := daemonize.Background(); err != nil {
			log.Error("daemonize: %s", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	lockPath := "/var/run/usbbridge/usbbridged.lock"
	lockFile, err := daemonize.Lock(lockPath)
	if err != nil {
		log.Error("%s", err)
		os.Exit(1)
	}
	defer lockFile.Close()

	if p.mode != modeDebug {
		if err := daemonize.CloseStdio(); err != nil {
			log.Error("%s", err)
			os.Exit(1)
		}
	}

	pol := buildPolicy(conf, p)

	qdb := quirks.Empty()
	if conf.QuirksFilePath != "" {
		db, err := quirks.Load(conf.QuirksFilePath)
		if err != nil {
			log.Debug("quirks: %s", err)
		} else {
			qdb = db
		}
	}

	bus := bridge.New(bridge.Options{
		Policy:         pol,
		Logger:         log,
		PumpIntervalMs: conf.PumpIntervalMs,
		Quirks:         qdb,
	})

	if err := bus.Init(); err != nil {
		log.Error("bridge init: %s", err)
		os.Exit(1)
	}
	defer bus.Close()

	if conf.HotplugEnable {
		if err := bus.EnableHotplug(); err != nil {
			log.Error("enable hotplug: %s", err)
		}
	}

	srv := ctrlsock.NewServer(conf.SocketPath, func() []byte {
		return ctrlsock.FormatStats(bus.Stats())
	})
	if err := srv.Start(); err != nil {
		log.Error("control socket: %s", err)
	}
	defer srv.Stop()

	log.Info("usbbridged started, pid=%d", os.Getpid())
	defer log.Info("usbbridged finished")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range bus.PollEvents() {
				log.Debug("hotplug: %v %s at %s", ev.Kind, ev.Identity, ev.Location)
			}
		}
	}
}
