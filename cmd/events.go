package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termcam/host/internal/mdns"
	"github.com/termcam/host/internal/server"
	"github.com/termcam/host/internal/supervisor"
)

// wireMessage is server.Message with the payload left raw.
type wireMessage struct {
	Type    server.MessageType `json:"type"`
	ID      string             `json:"id,omitempty"`
	Payload json.RawMessage    `json:"payload"`
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "", "Host address (default: addr from config)")
	configPath := fs.String("config", "", "Path to config file (default: ~/.termcam/config.toml)")
	devices := fs.String("device", "", "Comma-separated device ids to follow (default: all)")
	jsonOutput := fs.Bool("json", false, "Print raw JSON messages")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam events [options]\n\nFollow device state transitions until interrupted.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	client, err := newAPIClient(*addr, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+client.addr+"/ws", nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to connect to %s: %v\n", client.addr, err)
		return 1
	}
	defer conn.Close()

	if *devices != "" {
		watch := server.Message{
			Type:    server.MessageTypeWatch,
			Payload: server.WatchPayload{DeviceIDs: strings.Split(*devices, ",")},
		}
		if err := conn.WriteJSON(watch); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Fprintf(stderr, "Read error: %v\n", err)
				}
				return
			}
			if *jsonOutput {
				fmt.Fprintln(stdout, string(data))
				continue
			}
			printEventMessage(stdout, data)
		}
	}()

	select {
	case <-done:
		fmt.Fprintln(stdout, "Connection closed")
	case <-interrupt:
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	return 0
}

// printEventMessage renders one stream message as a single line.
func printEventMessage(w io.Writer, data []byte) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		fmt.Fprintf(w, "raw: %s\n", string(data))
		return
	}

	switch msg.Type {
	case server.MessageTypeHello:
		var hello server.HelloPayload
		if err := json.Unmarshal(msg.Payload, &hello); err == nil {
			fmt.Fprintf(w, "connected to host %s, %d devices\n", hello.Version, len(hello.Devices))
			for _, d := range hello.Devices {
				fmt.Fprintf(w, "  %s %s\n", d.DeviceID, d.State)
			}
		}
	case server.MessageTypeDeviceEvent:
		var ev supervisor.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			fmt.Fprintf(w, "raw: %s\n", string(data))
			return
		}
		line := fmt.Sprintf("%s %s %s -> %s", ev.At.Format(time.TimeOnly), ev.DeviceID, ev.From, ev.State)
		if ev.Display != nil {
			line += fmt.Sprintf(" display=:%d", *ev.Display)
		}
		if ev.Restarts > 0 {
			line += fmt.Sprintf(" restarts=%d", ev.Restarts)
		}
		if ev.Delay > 0 {
			line += fmt.Sprintf(" delay=%s", ev.Delay)
		}
		if ev.ErrorCode != "" {
			line += fmt.Sprintf(" error=%s (%s)", ev.ErrorCode, ev.ErrorMessage)
		}
		fmt.Fprintln(w, line)
	case server.MessageTypeError:
		var e server.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &e); err == nil {
			fmt.Fprintf(w, "error: %s: %s\n", e.Code, e.Message)
		}
	default:
		fmt.Fprintf(w, "%s: %s\n", msg.Type, string(msg.Payload))
	}
}

func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	timeout := fs.Duration("timeout", 3*time.Second, "How long to browse")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam discover [options]\n\nFind termcam hosts advertised over mDNS.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	hosts, err := mdns.Discover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(hosts) == 0 {
		fmt.Fprintln(stdout, "No hosts found.")
		return 0
	}
	for _, h := range hosts {
		fmt.Fprintf(stdout, "%s\t%s:%d\tversion=%s\tdevices=%d\n", h.Name, h.Host, h.Port, h.Version, h.Devices)
	}
	return 0
}
