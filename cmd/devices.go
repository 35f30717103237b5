package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/termcam/host/internal/device"
	"github.com/termcam/host/internal/registry"
	"github.com/termcam/host/internal/server"
)

// deviceFlags are the flags shared by "devices add" and "devices update".
type deviceFlags struct {
	addr       string
	configPath string
	program    string
	columns    int
	rows       int
	font       string
	fontSize   int
	jsonOutput bool
}

func (f *deviceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.addr, "addr", "", "Host address (default: addr from config)")
	fs.StringVar(&f.configPath, "config", "", "Path to config file (default: ~/.termcam/config.toml)")
	fs.StringVar(&f.program, "program", "", "Terminal program command line")
	fs.IntVar(&f.columns, "columns", 80, "Terminal columns")
	fs.IntVar(&f.rows, "rows", 24, "Terminal rows")
	fs.StringVar(&f.font, "font", "", "Font family (see 'termcam fonts')")
	fs.IntVar(&f.fontSize, "font-size", 0, "Font size in points (default: 12)")
	fs.BoolVar(&f.jsonOutput, "json", false, "Output in JSON format")
}

// apply copies the explicitly set flags onto cfg.
func (f *deviceFlags) apply(fs *flag.FlagSet, cfg *device.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "program":
			cfg.TerminalProgram = f.program
		case "columns":
			cfg.TerminalColumns = f.columns
		case "rows":
			cfg.TerminalRows = f.rows
		case "font":
			cfg.FontName = f.font
		case "font-size":
			cfg.FontSize = f.fontSize
		}
	})
}

// parseWithID parses args and returns the single positional device id.
func parseWithID(fs *flag.FlagSet, args []string, stderr io.Writer) (string, int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return "", 0, false
		}
		return "", 1, false
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return "", 1, false
	}
	return fs.Arg(0), 0, true
}

// formatDuration formats a duration in a human-readable way.
// Examples: "just now", "5m ago", "2h ago", "3d ago"
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "in the future"
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func writeJSONOutput(stdout, stderr io.Writer, v interface{}) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runDevicesList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "", "Host address (default: addr from config)")
	configPath := fs.String("config", "", "Path to config file (default: ~/.termcam/config.toml)")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam devices list [options]\n\nList all camera devices.\n\nOptions:\n")
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

	var resp server.DeviceListResponse
	if err := client.do(http.MethodGet, "/api/devices", nil, &resp); err != nil {
		printError(stderr, err)
		return 1
	}

	if *jsonOutput {
		return writeJSONOutput(stdout, stderr, resp)
	}

	if len(resp.Devices) == 0 {
		fmt.Fprintln(stdout, "No devices found.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE ID\tSTATE\tDISPLAY\tSIZE\tRESTARTS\tCREATED")
	fmt.Fprintln(w, "---------\t-----\t-------\t----\t--------\t-------")

	now := time.Now()
	for _, d := range resp.Devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t%d\t%s\n",
			d.DeviceID,
			d.State,
			displayName(d.Display),
			d.Desired.TerminalColumns,
			d.Desired.TerminalRows,
			d.Restarts,
			formatDuration(now.Sub(d.CreatedAt)),
		)
	}
	w.Flush()
	return 0
}

func displayName(display *int) string {
	if display == nil {
		return "-"
	}
	return fmt.Sprintf(":%d", *display)
}

func runDevicesGet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices get", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "", "Host address (default: addr from config)")
	configPath := fs.String("config", "", "Path to config file (default: ~/.termcam/config.toml)")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam devices get [options] <device-id>\n\nShow one device.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	id, code, ok := parseWithID(fs, args, stderr)
	if !ok {
		return code
	}

	client, err := newAPIClient(*addr, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var st registry.DeviceStatus
	if err := client.do(http.MethodGet, "/api/devices/"+url.PathEscape(id), nil, &st); err != nil {
		printError(stderr, err)
		return 1
	}

	if *jsonOutput {
		return writeJSONOutput(stdout, stderr, st)
	}
	writeDeviceOutput(stdout, st)
	return 0
}

// writeDeviceOutput renders one device for humans.
func writeDeviceOutput(w io.Writer, st registry.DeviceStatus) {
	fmt.Fprintf(w, "Device:       %s\n", st.DeviceID)
	fmt.Fprintf(w, "State:        %s\n", st.State)
	fmt.Fprintf(w, "Display:      %s\n", displayName(st.Display))
	fmt.Fprintf(w, "Program:      %s\n", st.Desired.TerminalProgram)
	fmt.Fprintf(w, "Size:         %dx%d\n", st.Desired.TerminalColumns, st.Desired.TerminalRows)
	if st.Desired.FontName != "" {
		fmt.Fprintf(w, "Font:         %s %d\n", st.Desired.FontName, st.Desired.FontSize)
	}
	fmt.Fprintf(w, "Restarts:     %d\n", st.Restarts)
	if st.LastExit != "" {
		fmt.Fprintf(w, "Last exit:    %s\n", st.LastExit)
	}
	if st.ErrorCode != "" {
		fmt.Fprintf(w, "Error:        %s: %s\n", st.ErrorCode, st.ErrorMessage)
		if st.NextAction != "" {
			fmt.Fprintf(w, "  -> %s\n", st.NextAction)
		}
	}
	if st.FrameSource != nil {
		fmt.Fprintf(w, "Frame token:  %s (generation %d)\n", st.FrameSource.Token, st.FrameSource.Generation)
	}
	if len(st.Logs) > 0 {
		fmt.Fprintf(w, "\nRecent output:\n")
		for _, line := range st.Logs {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func runDevicesAdd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices add", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var f deviceFlags
	f.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam devices add [options] <device-id>\n\nCreate a device and wait for its first start attempt.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	id, code, ok := parseWithID(fs, args, stderr)
	if !ok {
		return code
	}

	cfg := device.Config{
		TerminalProgram: f.program,
		TerminalColumns: f.columns,
		TerminalRows:    f.rows,
		FontName:        f.font,
		FontSize:        f.fontSize,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	client, err := newAPIClient(f.addr, f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var st registry.DeviceStatus
	req := server.CreateDeviceRequest{ID: id, Config: cfg}
	if err := client.do(http.MethodPost, "/api/devices", req, &st); err != nil {
		printError(stderr, err)
		return 1
	}

	if f.jsonOutput {
		return writeJSONOutput(stdout, stderr, st)
	}
	fmt.Fprintf(stdout, "Device %s is %s on display %s.\n", id, st.State, displayName(st.Display))
	return 0
}

func runDevicesUpdate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices update", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var f deviceFlags
	f.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam devices update [options] <device-id>\n\nChange a device's configuration. Unset flags keep their current value.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	id, code, ok := parseWithID(fs, args, stderr)
	if !ok {
		return code
	}

	client, err := newAPIClient(f.addr, f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	path := "/api/devices/" + url.PathEscape(id)
	var current registry.DeviceStatus
	if err := client.do(http.MethodGet, path, nil, &current); err != nil {
		printError(stderr, err)
		return 1
	}

	cfg := current.Desired
	f.apply(fs, &cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var resp server.UpdateDeviceResponse
	if err := client.do(http.MethodPut, path, cfg, &resp); err != nil {
		printError(stderr, err)
		return 1
	}

	if f.jsonOutput {
		return writeJSONOutput(stdout, stderr, resp)
	}
	fmt.Fprintf(stdout, "Device %s: %s (now %s).\n", id, describeDecision(string(resp.Decision)), resp.Device.State)
	return 0
}

func describeDecision(decision string) string {
	switch decision {
	case "noop":
		return "no change"
	case "restart":
		return "restarted with the new configuration"
	case "start":
		return "started"
	}
	return decision
}

func runDevicesRemove(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices remove", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "", "Host address (default: addr from config)")
	configPath := fs.String("config", "", "Path to config file (default: ~/.termcam/config.toml)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam devices remove [options] <device-id>\n\nStop a device and forget its configuration.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	id, code, ok := parseWithID(fs, args, stderr)
	if !ok {
		return code
	}

	client, err := newAPIClient(*addr, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := client.do(http.MethodDelete, "/api/devices/"+url.PathEscape(id), nil, nil); err != nil {
		printError(stderr, err)
		return 1
	}

	fmt.Fprintf(stdout, "Device %s removed.\n", id)
	return 0
}

func runDevicesSource(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devices source", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "", "Host address (default: addr from config)")
	configPath := fs.String("config", "", "Path to config file (default: ~/.termcam/config.toml)")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam devices source [options] <device-id>\n\nShow how to grab frames from a running device.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	id, code, ok := parseWithID(fs, args, stderr)
	if !ok {
		return code
	}

	client, err := newAPIClient(*addr, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var resp server.FrameSourceResponse
	if err := client.do(http.MethodGet, "/api/devices/"+url.PathEscape(id)+"/frame-source", nil, &resp); err != nil {
		printError(stderr, err)
		return 1
	}

	if *jsonOutput {
		return writeJSONOutput(stdout, stderr, resp)
	}

	fmt.Fprintf(stdout, "Token:        %s\n", resp.Handle.Token)
	fmt.Fprintf(stdout, "Generation:   %d\n", resp.Handle.Generation)
	fmt.Fprintf(stdout, "Display:      %s\n", resp.Handle.DisplayName())
	for _, kv := range resp.Env {
		fmt.Fprintf(stdout, "Env:          %s\n", kv)
	}
	fmt.Fprintf(stdout, "Input:        %s\n", strings.Join(resp.InputArgs, " "))
	return 0
}
