// This file implements the `termcam doctor` diagnostic command.
//
// The doctor command runs preflight checks against the local host and
// reports remediation guidance for any issue. It supports human-readable
// (default) and machine-readable (--json) output.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/config"
	"github.com/termcam/host/internal/display"
	hosterrors "github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/fonts"
	"github.com/termcam/host/internal/platform"
	"github.com/termcam/host/internal/server"
)

// DoctorResult is the top-level JSON output for `termcam doctor --json`.
type DoctorResult struct {
	// Version is the doctor output schema version. Always "1".
	Version string        `json:"version"`
	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck is one diagnostic check in the doctor output.
type DoctorCheck struct {
	// ID is a stable, machine-readable identifier (e.g., "platform.dependencies").
	ID string `json:"id"`

	// Status is "pass", "warn", or "fail".
	Status     string `json:"status"`
	Message    string `json:"message"`
	NextAction string `json:"next_action"`
}

// DoctorSummary holds aggregate counts of check outcomes.
type DoctorSummary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Stable check IDs. They are part of the CLI contract.
const (
	checkIDPlatformClass = "platform.class"
	checkIDDependencies  = "platform.dependencies"
	checkIDFonts         = "fonts.fontconfig"
	checkIDDisplays      = "display.range"
	checkIDHostReady     = "host.readiness"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

const noAction = "No action required."

// Function-variable seams. Tests override these to avoid touching the
// real OS and network.
var (
	doctorDetect = func(installEnvironment string) (platform.Class, error) {
		return platform.Detect(platform.OSSystem(runtime.GOOS), installEnvironment)
	}

	doctorProbe = func(ctx context.Context, class platform.Class, dataDir string) (platform.DependencySet, platform.Toolchain, error) {
		v, err := platform.NewVariant(class, platform.OSSystem(runtime.GOOS), dataDir)
		if err != nil {
			return platform.DependencySet{}, platform.Toolchain{}, err
		}
		deps, tc := v.Probe(ctx)
		return deps, tc, nil
	}

	doctorFamilies = func(ctx context.Context, tc platform.Toolchain) []string {
		catalog := fonts.NewCatalog(func(context.Context) (platform.Toolchain, error) { return tc, nil }, nil, zerolog.Nop())
		return catalog.Families(ctx)
	}

	doctorDisplayBusy display.BusyFunc = display.LockFileBusy(display.LockDir)

	doctorQueryStatus = func(addr string) (*server.StatusResponse, error) {
		client := &apiClient{addr: addr, http: defaultHTTPClient()}
		return client.status()
	}
)

func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var jsonMode bool
	var configPath string
	var addr string

	fs.BoolVar(&jsonMode, "json", false, "Emit machine-readable JSON to stdout")
	fs.StringVar(&configPath, "config", "", "Path to config file (default: ~/.termcam/config.toml)")
	fs.StringVar(&addr, "addr", "", "Host address override for the readiness check")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam doctor [options]\n\nCheck that this host can run camera devices.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := cfg.Normalize(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if addr == "" {
		addr = cfg.Addr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checks := make([]DoctorCheck, 0, 5)

	class, detectErr := doctorDetect(cfg.InstallEnvironment)
	checks = append(checks, evalPlatformClass(class, detectErr))

	var tc platform.Toolchain
	if detectErr == nil {
		var deps platform.DependencySet
		var probeErr error
		deps, tc, probeErr = doctorProbe(ctx, class, cfg.DataDir)
		checks = append(checks, evalDependencies(class, deps, probeErr))
		checks = append(checks, evalFonts(doctorFamilies(ctx, tc)))
	}

	checks = append(checks, evalDisplays(cfg.DisplayBase, cfg.DisplayCount, doctorDisplayBusy))

	status, statusErr := doctorQueryStatus(addr)
	checks = append(checks, evalHostReadiness(addr, status, statusErr))

	result := DoctorResult{Version: "1", Checks: checks, Summary: summarize(checks)}

	if jsonMode {
		if err := renderDoctorJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error: failed to encode JSON: %v\n", err)
			return 1
		}
	} else {
		renderDoctorHuman(stdout, result)
	}

	if result.Summary.Fail > 0 {
		return 1
	}
	return 0
}

func summarize(checks []DoctorCheck) DoctorSummary {
	summary := DoctorSummary{}
	for _, c := range checks {
		switch c.Status {
		case statusPass:
			summary.Pass++
		case statusWarn:
			summary.Warn++
		case statusFail:
			summary.Fail++
		}
	}
	return summary
}

// evalPlatformClass fails when no provisioning strategy exists.
func evalPlatformClass(class platform.Class, err error) DoctorCheck {
	check := DoctorCheck{ID: checkIDPlatformClass}
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Unsupported platform: %v", err)
		check.NextAction = hosterrors.GetNextAction(hosterrors.CodePlatformUnsupported)
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Provisioning strategy: %s.", class)
	check.NextAction = noAction
	return check
}

// evalDependencies decision table:
//   - probe error -> fail
//   - required artifact missing on an installing platform -> warn
//   - required artifact missing elsewhere -> fail
//   - only optional artifacts missing -> warn
//   - all satisfied -> pass
func evalDependencies(class platform.Class, deps platform.DependencySet, err error) DoctorCheck {
	check := DoctorCheck{ID: checkIDDependencies}
	if err != nil {
		check.Status = statusFail
		check.Message = fmt.Sprintf("Dependency probe failed: %v", err)
		check.NextAction = "Re-run doctor with --config pointing at a valid data_dir."
		return check
	}

	missing := deps.Missing()
	if len(missing) > 0 {
		names := artifactNames(missing)
		if class == platform.ClassContainer || class == platform.ClassCygwin {
			check.Status = statusWarn
			check.Message = fmt.Sprintf("Missing %s; the host installs them on first device start.", names)
			check.NextAction = "Start the host and create a device, or install them ahead of time."
			return check
		}
		check.Status = statusFail
		check.Message = fmt.Sprintf("Missing required artifacts: %s.", names)
		check.NextAction = hosterrors.GetNextAction(hosterrors.CodePlatformMissingDependency)
		return check
	}

	var optional []platform.Artifact
	for _, a := range deps.Artifacts {
		if a.Optional && !a.Satisfied {
			optional = append(optional, a)
		}
	}
	if len(optional) > 0 {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("Optional artifacts missing: %s.", artifactNames(optional))
		check.NextAction = "Install them for font selection and frame capture."
		return check
	}

	check.Status = statusPass
	check.Message = fmt.Sprintf("All %d artifacts found.", len(deps.Artifacts))
	check.NextAction = noAction
	return check
}

func artifactNames(artifacts []platform.Artifact) string {
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// evalFonts warns when only the built-in font is available.
func evalFonts(families []string) DoctorCheck {
	check := DoctorCheck{ID: checkIDFonts}
	if len(families) <= 1 {
		check.Status = statusWarn
		check.Message = "fontconfig is unavailable; devices use the built-in font."
		check.NextAction = "Install fontconfig (fc-list) to pick font families."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("%d font families available.", len(families)-1)
	check.NextAction = noAction
	return check
}

// evalDisplays decision table:
//   - no free display number -> fail
//   - some numbers held by other X servers -> warn
//   - all free -> pass
func evalDisplays(base, count int, busy display.BusyFunc) DoctorCheck {
	check := DoctorCheck{ID: checkIDDisplays}

	taken := 0
	for d := base; d < base+count; d++ {
		if busy != nil && busy(d) {
			taken++
		}
	}

	switch {
	case taken == count:
		check.Status = statusFail
		check.Message = fmt.Sprintf("All displays :%d-:%d are held by other X servers.", base, base+count-1)
		check.NextAction = "Move display_base to a free range or stop the other X servers."
	case taken > 0:
		check.Status = statusWarn
		check.Message = fmt.Sprintf("%d of %d displays from :%d are held by other X servers.", taken, count, base)
		check.NextAction = "Devices skip busy displays; move display_base if you need the full range."
	default:
		check.Status = statusPass
		check.Message = fmt.Sprintf("Displays :%d-:%d are free.", base, base+count-1)
		check.NextAction = noAction
	}
	return check
}

// evalHostReadiness warns rather than fails when the host is down:
// doctor is usually run before the first start.
func evalHostReadiness(addr string, status *server.StatusResponse, err error) DoctorCheck {
	check := DoctorCheck{ID: checkIDHostReady}
	if err != nil || status == nil {
		check.Status = statusWarn
		check.Message = fmt.Sprintf("Host is not running at %s.", addr)
		check.NextAction = "Start the host with `termcam start`."
		return check
	}
	check.Status = statusPass
	check.Message = fmt.Sprintf("Host %s is running at %s with %d devices (%d running).",
		status.Version, status.ListeningAddress, status.Devices, status.Running)
	check.NextAction = noAction
	return check
}

// renderDoctorJSON writes only valid JSON to w.
func renderDoctorJSON(w io.Writer, result DoctorResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func renderDoctorHuman(w io.Writer, result DoctorResult) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "termcam doctor")
	fmt.Fprintln(w, "==============")
	fmt.Fprintln(w, "")

	for _, c := range result.Checks {
		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(c.Status), c.ID, c.Message)
		if c.Status != statusPass {
			fmt.Fprintf(w, "    -> %s\n", c.NextAction)
		}
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d failures\n",
		result.Summary.Pass, result.Summary.Warn, result.Summary.Fail)
	fmt.Fprintln(w, "")
}

func statusIcon(status string) string {
	switch status {
	case statusPass:
		return "[PASS]"
	case statusWarn:
		return "[WARN]"
	case statusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}
