// Package errors provides standardized error codes for the termcam host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (device, platform, display, process, frame)
//   - error: The specific error type within that domain
//
// These codes are stable and are returned verbatim by the control API, so
// scripts driving the host can branch on them. Human-readable messages are
// provided alongside codes.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error codes by domain.
const (
	// Device domain - registry validation
	CodeDeviceDuplicate = "device.duplicate" // Device id already registered
	CodeDeviceUnknown   = "device.unknown"   // Device id not registered
	CodeDeviceCanceled  = "device.canceled"  // Start attempt abandoned by a stop/remove
	CodeDeviceBusy      = "device.busy"      // Supervisor command queue is full

	// Config domain
	CodeConfigInvalid = "config.invalid" // Device configuration failed validation

	// Platform domain - dependency provisioning
	CodePlatformMissingDependency = "platform.missing_dependency" // Required artifact absent, manual install needed
	CodePlatformInstallFailed     = "platform.install_failed"     // Automatic install attempt failed
	CodePlatformUnsupported       = "platform.unsupported"        // No provisioning strategy for this host

	// Display domain
	CodeDisplayExhausted = "display.exhausted" // No free display identifier left

	// Process domain - display server / terminal pair
	CodeProcessSpawnFailed  = "process.spawn_failed"  // Could not start a process
	CodeProcessReadyTimeout = "process.ready_timeout" // Pair did not become ready in time
	CodeProcessCrashed      = "process.crashed"       // A process exited unexpectedly

	// Frame domain - streaming collaborator access
	CodeFrameNotRunning  = "frame.not_running"  // Device has no live frame source
	CodeFrameStaleHandle = "frame.stale_handle" // Handle was invalidated, re-fetch required

	// Storage domain
	CodeStorageOpenFailed  = "storage.open_failed"
	CodeStorageQueryFailed = "storage.query_failed"
	CodeStorageSaveFailed  = "storage.save_failed"

	// Keep-awake domain - host sleep inhibitor
	CodeFontUnsupported   = "font.unsupported"    // fontconfig missing, fonts cannot be installed
	CodeFontInstallFailed = "font.install_failed" // Font directory could not be prepared

	CodeKeepAwakeUnsupported   = "keepawake.unsupported"    // No sleep inhibitor on this OS
	CodeKeepAwakeAcquireFailed = "keepawake.acquire_failed" // Inhibitor could not be started

	// Server domain
	CodeServerInvalidMessage = "server.invalid_message"
	CodeServerRateLimited    = "server.rate_limited"
	CodeServerForbidden      = "server.forbidden"

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"
	CodeInternal = "error.internal"
)

// CodedError wraps an error with a stable error code.
// Artifact and ExitCode carry the structured payload of the platform and
// process failures; they are zero for every other code.
type CodedError struct {
	Code     string // Stable error code (e.g., "device.unknown")
	Message  string // Human-readable error message
	Cause    error  // Underlying error (may be nil)
	Artifact string // Unmet artifact for platform.* codes
	ExitCode int    // Exit status for process.crashed
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to API responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// ArtifactOf returns the artifact named by a platform error, or "".
func ArtifactOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Artifact
	}
	return ""
}

// ExitCodeOf returns the exit status recorded by a process.crashed error.
// The second result is false for any other error.
func ExitCodeOf(err error) (int, bool) {
	var coded *CodedError
	if errors.As(err, &coded) && coded.Code == CodeProcessCrashed {
		return coded.ExitCode, true
	}
	return 0, false
}

// Retryable reports whether the supervisor may retry after err on its own.
// Platform failures are surfaced to the operator instead.
func Retryable(err error) bool {
	switch GetCode(err) {
	case CodeProcessSpawnFailed, CodeProcessReadyTimeout, CodeProcessCrashed:
		return true
	}
	return false
}

// DuplicateDevice creates a "device.duplicate" error.
func DuplicateDevice(id string) *CodedError {
	return New(CodeDeviceDuplicate, fmt.Sprintf("device %s already exists", id))
}

// UnknownDevice creates a "device.unknown" error.
func UnknownDevice(id string) *CodedError {
	return New(CodeDeviceUnknown, fmt.Sprintf("device %s does not exist", id))
}

// Canceled creates a "device.canceled" error.
func Canceled(id string, cause error) *CodedError {
	return Wrap(CodeDeviceCanceled, fmt.Sprintf("start of device %s was canceled", id), cause)
}

// InvalidConfig creates a "config.invalid" error.
func InvalidConfig(reason string) *CodedError {
	return New(CodeConfigInvalid, reason)
}

// MissingDependency creates a "platform.missing_dependency" error.
func MissingDependency(artifact string) *CodedError {
	e := New(CodePlatformMissingDependency, fmt.Sprintf("required artifact %s is not installed", artifact))
	e.Artifact = artifact
	return e
}

// InstallFailed creates a "platform.install_failed" error.
func InstallFailed(artifact string, cause error) *CodedError {
	e := Wrap(CodePlatformInstallFailed, fmt.Sprintf("installing %s failed", artifact), cause)
	e.Artifact = artifact
	return e
}

// PlatformUnsupported creates a "platform.unsupported" error.
func PlatformUnsupported(platform string) *CodedError {
	return New(CodePlatformUnsupported, fmt.Sprintf("platform %s is not supported", platform))
}

// AllocationExhausted creates a "display.exhausted" error.
func AllocationExhausted(base, count int) *CodedError {
	return New(CodeDisplayExhausted, fmt.Sprintf("all displays in :%d-:%d are in use", base, base+count-1))
}

// ProcessSpawnFailed creates a "process.spawn_failed" error.
func ProcessSpawnFailed(role string, cause error) *CodedError {
	return Wrap(CodeProcessSpawnFailed, fmt.Sprintf("failed to spawn %s process", role), cause)
}

// ProcessReadyTimeout creates a "process.ready_timeout" error.
func ProcessReadyTimeout(timeout time.Duration) *CodedError {
	return New(CodeProcessReadyTimeout, fmt.Sprintf("process pair not ready after %s", timeout))
}

// ProcessCrashed creates a "process.crashed" error.
func ProcessCrashed(role string, exitCode int) *CodedError {
	e := New(CodeProcessCrashed, fmt.Sprintf("%s process exited with status %d", role, exitCode))
	e.ExitCode = exitCode
	return e
}

// NotRunning creates a "frame.not_running" error.
func NotRunning(id string) *CodedError {
	return New(CodeFrameNotRunning, fmt.Sprintf("device %s is not running", id))
}

// StaleHandle creates a "frame.stale_handle" error.
func StaleHandle(token string) *CodedError {
	return New(CodeFrameStaleHandle, fmt.Sprintf("frame handle %s is no longer valid, fetch a new one", token))
}

// InvalidMessage creates a "server.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}

// nextActions maps operator-facing codes to a remediation hint.
var nextActions = map[string]string{
	CodeDeviceDuplicate:           "Pick another device id, or update the existing device instead.",
	CodeDeviceUnknown:             "List devices with 'termcam devices list' and check the id.",
	CodeConfigInvalid:             "Fix the device configuration and retry.",
	CodePlatformMissingDependency: "Install the named artifact, then update the device; the host probes again on the next start.",
	CodePlatformInstallFailed:     "Check the installer output in the host log, fix the cause and revalidate the platform.",
	CodePlatformUnsupported:       "Run the host on Linux, macOS or Windows with Cygwin.",
	CodeDisplayExhausted:          "Remove an unused device or raise display_count in the config.",
	CodeProcessSpawnFailed:        "Check the terminal program path and the host log.",
	CodeProcessReadyTimeout:       "Raise ready_timeout or check that Xvfb can start on this host.",
	CodeProcessCrashed:            "Inspect the device log tail; update the device to retry once fixed.",
	CodeFrameNotRunning:           "Wait for the device to reach running and fetch the frame source again.",
	CodeFrameStaleHandle:          "Fetch a fresh frame source for the device.",
	CodeFontUnsupported:           "Install fontconfig (fc-list, fc-validate) and revalidate the platform.",
	CodeFontInstallFailed:         "Check that the data directory is writable.",
}

// GetNextAction returns a short remediation hint for a code, or "".
func GetNextAction(code string) string {
	return nextActions[code]
}
