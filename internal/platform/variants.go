package platform

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/termcam/host/internal/errors"
)

// Artifact names shared across variants.
const (
	ArtifactXvfb        = "Xvfb"
	ArtifactXterm       = "xterm"
	ArtifactXauth       = "xauth"
	ArtifactXfontsBase  = "xfonts-base"
	ArtifactFontconfig  = "fontconfig"
	ArtifactFFmpeg      = "ffmpeg"
	ArtifactCygwin      = "cygwin-packages"
	ArtifactCygwinSetup = "cygwin-setup"
	ArtifactCygserver   = "cygserver"
)

// misc bitmap fonts that xterm falls back to; Debian and Fedora layouts.
var xfontsDirs = []string{
	"/usr/share/fonts/X11/misc/fonts.dir",
	"/usr/share/X11/fonts/misc/fonts.dir",
}

// linuxVariant expects a native Linux host with the X11 tools installed by
// the operator.
type linuxVariant struct {
	sys     System
	dataDir string
}

func (v *linuxVariant) Class() Class { return ClassLinux }

func (v *linuxVariant) CanInstall() bool { return false }

func (v *linuxVariant) Install(context.Context, []Artifact) error {
	return errors.New(errors.CodePlatformMissingDependency, "native Linux requires a manual install")
}

func (v *linuxVariant) Probe(ctx context.Context) (DependencySet, Toolchain) {
	return v.probe(ClassLinux, false)
}

func (v *linuxVariant) probe(class Class, fontconfigRequired bool) (DependencySet, Toolchain) {
	xvfb := lookup(v.sys, ArtifactXvfb, "Xvfb")
	xterm := lookup(v.sys, ArtifactXterm, "xterm")
	xauth := lookup(v.sys, ArtifactXauth, "xauth")
	xfonts := lookup(v.sys, ArtifactXfontsBase, "", xfontsDirs...)
	fcList := lookup(v.sys, ArtifactFontconfig, "fc-list")
	fcList.Optional = !fontconfigRequired
	ffmpeg := lookup(v.sys, ArtifactFFmpeg, "ffmpeg")
	ffmpeg.Optional = true

	deps := DependencySet{
		Class:     class,
		Artifacts: []Artifact{xvfb, xterm, xauth, xfonts, fcList, ffmpeg},
		CheckedAt: time.Now(),
	}
	tc := Toolchain{
		Class:  class,
		Xvfb:   xvfb.Path,
		Xterm:  xterm.Path,
		Xauth:  xauth.Path,
		FFmpeg: ffmpeg.Path,
		FcList: fcList.Path,
		Env: childEnv(v.sys, nil, map[string]string{
			"XDG_DATA_HOME": filepath.Join(v.dataDir, "xdg"),
		}),
	}
	return deps, tc
}

// containerVariant runs inside docker/lxc images where the host may install
// packages itself with apt.
type containerVariant struct {
	linuxVariant
}

// ContainerPackages are installed with apt-get in containers.
var ContainerPackages = []string{"xvfb", "xterm", "xauth", "xfonts-base", "fontconfig"}

func (v *containerVariant) Class() Class { return ClassContainer }

func (v *containerVariant) CanInstall() bool { return true }

func (v *containerVariant) Probe(ctx context.Context) (DependencySet, Toolchain) {
	return v.probe(ClassContainer, true)
}

func (v *containerVariant) Install(ctx context.Context, missing []Artifact) error {
	env := childEnv(v.sys, nil, map[string]string{"DEBIAN_FRONTEND": "noninteractive"})

	if out, err := v.sys.Run(ctx, env, "apt-get", "update"); err != nil {
		return fmt.Errorf("apt-get update: %w: %s", err, tail(out))
	}

	args := append([]string{"install", "-y"}, ContainerPackages...)
	if out, err := v.sys.Run(ctx, env, "apt-get", args...); err != nil {
		return fmt.Errorf("apt-get install: %w: %s", err, tail(out))
	}
	return nil
}

// darwinVariant expects XQuartz and Homebrew ffmpeg.
type darwinVariant struct {
	sys System
}

var darwinPath = []string{"/opt/X11/bin", "/opt/homebrew/bin", "/usr/local/bin"}

func (v *darwinVariant) Class() Class { return ClassDarwin }

func (v *darwinVariant) CanInstall() bool { return false }

func (v *darwinVariant) Install(context.Context, []Artifact) error {
	return errors.New(errors.CodePlatformMissingDependency, "macOS requires a manual install of XQuartz and ffmpeg")
}

func (v *darwinVariant) Probe(ctx context.Context) (DependencySet, Toolchain) {
	xvfb := lookup(v.sys, ArtifactXvfb, "Xvfb", "/opt/X11/bin/Xvfb")
	xterm := lookup(v.sys, ArtifactXterm, "xterm", "/opt/X11/bin/xterm")
	xauth := lookup(v.sys, ArtifactXauth, "xauth", "/opt/X11/bin/xauth")
	ffmpeg := lookup(v.sys, ArtifactFFmpeg, "ffmpeg", "/opt/homebrew/bin/ffmpeg", "/usr/local/bin/ffmpeg")
	fcList := lookup(v.sys, ArtifactFontconfig, "fc-list", "/opt/X11/bin/fc-list", "/opt/homebrew/bin/fc-list")
	fcList.Optional = true

	deps := DependencySet{
		Class:     ClassDarwin,
		Artifacts: []Artifact{xvfb, xterm, xauth, ffmpeg, fcList},
		CheckedAt: time.Now(),
	}
	tc := Toolchain{
		Class:  ClassDarwin,
		Xvfb:   xvfb.Path,
		Xterm:  xterm.Path,
		Xauth:  xauth.Path,
		FFmpeg: ffmpeg.Path,
		FcList: fcList.Path,
		Env:    childEnv(v.sys, darwinPath, nil),
	}
	return deps, tc
}

// cygwinVariant installs a private Cygwin root with the X11 packages on
// Windows hosts.
type cygwinVariant struct {
	sys  System
	root string
}

// CygwinPackages are passed to the Cygwin setup program.
var CygwinPackages = []string{"xorg-server-extra", "xterm", "xauth", "xinit", "fontconfig", "font-misc-misc"}

// CygwinMirror is the package site used by setup.
const CygwinMirror = "https://mirrors.kernel.org/sourceware/cygwin/"

const cygwinMarker = "cygwin_install_done"

func (v *cygwinVariant) Class() Class { return ClassCygwin }

func (v *cygwinVariant) CanInstall() bool { return true }

func (v *cygwinVariant) bin(name string) string {
	return filepath.Join(v.root, "bin", name)
}

func (v *cygwinVariant) setupPath() string {
	return filepath.Join(v.root, "setup-x86_64.exe")
}

func (v *cygwinVariant) markerPath() string {
	return filepath.Join(v.root, cygwinMarker)
}

// packageDigest identifies the package list the marker was written for.
func packageDigest() string {
	sum := md5.Sum([]byte(strings.Join(CygwinPackages, ",")))
	return hex.EncodeToString(sum[:])
}

func (v *cygwinVariant) Probe(ctx context.Context) (DependencySet, Toolchain) {
	marker := Artifact{Name: ArtifactCygwin, Path: v.markerPath()}
	if data, err := v.sys.ReadFile(v.markerPath()); err == nil && strings.TrimSpace(string(data)) == packageDigest() {
		marker.Satisfied = true
	}

	xvfb := lookup(v.sys, ArtifactXvfb, "", v.bin("Xvfb.exe"))
	xterm := lookup(v.sys, ArtifactXterm, "", v.bin("xterm.exe"))
	xauth := lookup(v.sys, ArtifactXauth, "", v.bin("xauth.exe"))
	cygserver := lookup(v.sys, ArtifactCygserver, "", filepath.Join(v.root, "usr", "sbin", "cygserver.exe"))
	fcList := lookup(v.sys, ArtifactFontconfig, "", v.bin("fc-list.exe"))
	fcList.Optional = true
	ffmpeg := lookup(v.sys, ArtifactFFmpeg, "ffmpeg.exe")
	ffmpeg.Optional = true

	deps := DependencySet{
		Class:     ClassCygwin,
		Artifacts: []Artifact{marker, xvfb, xterm, xauth, cygserver, fcList, ffmpeg},
		CheckedAt: time.Now(),
	}
	tc := Toolchain{
		Class:  ClassCygwin,
		Xvfb:   xvfb.Path,
		Xterm:  xterm.Path,
		Xauth:  xauth.Path,
		FFmpeg: ffmpeg.Path,
		FcList: fcList.Path,
		Env:    childEnv(v.sys, []string{filepath.Join(v.root, "bin")}, nil),

		Cygserver: cygserver.Path,
		Shell:     v.bin("bash.exe"),
	}
	return deps, tc
}

// Install runs Cygwin setup quietly into the private root. The marker is
// written only once setup succeeded, so an interrupted install is retried
// in full after revalidation.
func (v *cygwinVariant) Install(ctx context.Context, missing []Artifact) error {
	setup := v.setupPath()
	if !v.sys.Exists(setup) {
		return errors.InstallFailed(ArtifactCygwinSetup, fmt.Errorf("setup program not found at %s", setup))
	}

	args := []string{
		"--quiet-mode",
		"--no-admin",
		"--no-shortcuts",
		"--no-desktop",
		"--root", v.root,
		"--local-package-dir", filepath.Join(v.root, "packages"),
		"--site", CygwinMirror,
		"--packages", strings.Join(CygwinPackages, ","),
	}
	if out, err := v.sys.Run(ctx, nil, setup, args...); err != nil {
		return fmt.Errorf("cygwin setup: %w: %s", err, tail(out))
	}

	if err := v.sys.WriteFile(v.markerPath(), []byte(packageDigest())); err != nil {
		return fmt.Errorf("write install marker: %w", err)
	}
	return nil
}

// tail trims installer output to its last few hundred bytes for errors.
func tail(out []byte) string {
	const max = 512
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
