// Package platform detects the host platform and makes sure the X11
// toolchain needed by camera devices is installed.
//
// Each platform class is a Variant with the same Probe/Install contract.
// The Provisioner wraps the variant selected at startup and caches the
// outcome of the first check until Invalidate is called.
package platform

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/termcam/host/internal/errors"
)

// Class identifies a provisioning strategy.
type Class string

const (
	ClassLinux     Class = "linux"
	ClassContainer Class = "container"
	ClassDarwin    Class = "darwin"
	ClassCygwin    Class = "cygwin"
)

// InstallEnvironmentVar forces the container strategy, like the
// install_environment config key.
const InstallEnvironmentVar = "TERMCAM_INSTALL_ENVIRONMENT"

// Artifact is one required (or optional) binary or data file.
type Artifact struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Satisfied bool   `json:"satisfied"`
	Optional  bool   `json:"optional,omitempty"`
}

// DependencySet is the result of one probe.
type DependencySet struct {
	Class     Class      `json:"class"`
	Artifacts []Artifact `json:"artifacts"`
	CheckedAt time.Time  `json:"checked_at"`
}

// Missing returns the required artifacts that are not satisfied.
func (d DependencySet) Missing() []Artifact {
	var out []Artifact
	for _, a := range d.Artifacts {
		if !a.Satisfied && !a.Optional {
			out = append(out, a)
		}
	}
	return out
}

// Path returns the resolved path of an artifact, or "".
func (d DependencySet) Path(name string) string {
	for _, a := range d.Artifacts {
		if a.Name == name && a.Satisfied {
			return a.Path
		}
	}
	return ""
}

// Toolchain is what a satisfied probe hands to the launcher.
type Toolchain struct {
	Class  Class
	Xvfb   string
	Xterm  string
	Xauth  string
	FFmpeg string // optional outside macOS
	FcList string // optional outside containers
	// Cygserver and Shell are set on Cygwin only. Xvfb there needs the
	// cygserver daemon for shared memory.
	Cygserver string
	Shell     string
	// Env is the full environment for child processes.
	Env []string
}

// Variant is one platform provisioning strategy.
type Variant interface {
	Class() Class
	// Probe inspects the host without side effects.
	Probe(ctx context.Context) (DependencySet, Toolchain)
	// CanInstall reports whether Install may be attempted automatically.
	CanInstall() bool
	// Install tries to satisfy the missing artifacts.
	Install(ctx context.Context, missing []Artifact) error
}

// System is the slice of the OS a variant touches. Tests swap the
// function fields.
type System struct {
	GOOS      string
	Getenv    func(string) string
	Exists    func(path string) bool
	LookPath  func(file string) (string, error)
	Run       func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
	ReadFile  func(path string) ([]byte, error)
	WriteFile func(path string, data []byte) error
}

// OSSystem returns a System backed by the real operating system.
func OSSystem(goos string) System {
	return System{
		GOOS:   goos,
		Getenv: os.Getenv,
		Exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		LookPath: exec.LookPath,
		Run: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Env = env
			return cmd.CombinedOutput()
		},
		ReadFile: os.ReadFile,
		WriteFile: func(path string, data []byte) error {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return err
			}
			return os.WriteFile(path, data, 0644)
		},
	}
}

// Detect picks the provisioning class for the host.
func Detect(sys System, installEnvironment string) (Class, error) {
	switch sys.GOOS {
	case "linux":
		if isContainerEnvironment(installEnvironment) || isContainerEnvironment(sys.Getenv(InstallEnvironmentVar)) {
			return ClassContainer, nil
		}
		if sys.Exists("/.dockerenv") || sys.Exists("/run/.containerenv") {
			return ClassContainer, nil
		}
		return ClassLinux, nil
	case "darwin":
		return ClassDarwin, nil
	case "windows":
		return ClassCygwin, nil
	}
	return "", errors.PlatformUnsupported(sys.GOOS)
}

func isContainerEnvironment(v string) bool {
	switch v {
	case "docker", "lxc", "lxc-docker":
		return true
	}
	return false
}

// NewVariant builds the variant for class. dataDir holds per-host state
// such as the Cygwin root.
func NewVariant(class Class, sys System, dataDir string) (Variant, error) {
	switch class {
	case ClassLinux:
		return &linuxVariant{sys: sys, dataDir: dataDir}, nil
	case ClassContainer:
		return &containerVariant{linuxVariant{sys: sys, dataDir: dataDir}}, nil
	case ClassDarwin:
		return &darwinVariant{sys: sys}, nil
	case ClassCygwin:
		return &cygwinVariant{sys: sys, root: filepath.Join(dataDir, "cygwin")}, nil
	}
	return nil, errors.PlatformUnsupported(string(class))
}

// childEnv rebuilds the parent environment with LANG forced to UTF-8, PATH
// prefixed with extraPath and any overrides applied.
func childEnv(sys System, extraPath []string, overrides map[string]string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(overrides)+2)
	path := sys.Getenv("PATH")
	if len(extraPath) > 0 {
		prefix := strings.Join(extraPath, string(os.PathListSeparator))
		if path == "" {
			path = prefix
		} else {
			path = prefix + string(os.PathListSeparator) + path
		}
	}

	skip := map[string]bool{"PATH": true, "LANG": true}
	for k := range overrides {
		skip[k] = true
	}
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if skip[key] {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "PATH="+path, "LANG=en_US.UTF-8")
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// lookup resolves an artifact from absolute candidates first, then PATH.
func lookup(sys System, name, binary string, candidates ...string) Artifact {
	for _, c := range candidates {
		if sys.Exists(c) {
			return Artifact{Name: name, Path: c, Satisfied: true}
		}
	}
	if binary != "" {
		if p, err := sys.LookPath(binary); err == nil {
			return Artifact{Name: name, Path: p, Satisfied: true}
		}
	}
	return Artifact{Name: name}
}
