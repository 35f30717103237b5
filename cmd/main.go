package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `termcam - terminal windows as virtual camera sources

Usage:
  termcam <command> [options]

Commands:
  start                      Start the host daemon
  status                     Show host daemon status
  devices list               List camera devices
  devices get <id>           Show one device
  devices add <id> [opts]    Create a device
  devices update <id> [opts] Change a device's configuration
  devices remove <id>        Stop and remove a device
  devices source <id>        Show the frame source of a running device
  events [--device <id>]     Follow device state transitions
  fonts                      List font families usable by devices
  fonts install <url>...     Download fonts into the host's font directory
  doctor                     Check that this host can run devices
  cleanup                    Kill processes orphaned by a crashed host
  discover                   Find termcam hosts advertised over mDNS
  version                    Print the version
Run 'termcam <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "devices":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: termcam devices <list|get|add|update|remove|source>")
			return 1
		}
		switch args[2] {
		case "list":
			return runDevicesList(args[3:], stdout, stderr)
		case "get":
			return runDevicesGet(args[3:], stdout, stderr)
		case "add":
			return runDevicesAdd(args[3:], stdout, stderr)
		case "update":
			return runDevicesUpdate(args[3:], stdout, stderr)
		case "remove":
			return runDevicesRemove(args[3:], stdout, stderr)
		case "source":
			return runDevicesSource(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown devices command: %s\n", args[2])
			return 1
		}
	case "events":
		return runEvents(args[2:], stdout, stderr)
	case "fonts":
		return runFonts(args[2:], stdout, stderr)
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "cleanup":
		return runCleanup(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "termcam %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
