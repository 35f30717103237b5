package platform

import (
	"context"
	stderrors "errors"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/logger"
)

// fakeHost is an in-memory System.
type fakeHost struct {
	mu    sync.Mutex
	files map[string][]byte
	bins  map[string]string
	env   map[string]string
	runs  []string
	onRun func(name string, args []string) error
}

func newFakeHost() *fakeHost {
	return &fakeHost{files: map[string][]byte{}, bins: map[string]string{}, env: map[string]string{}}
}

func (f *fakeHost) addBin(name, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bins[name] = path
	f.files[path] = nil
}

func (f *fakeHost) addFile(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
}

func (f *fakeHost) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func (f *fakeHost) system(goos string) System {
	return System{
		GOOS:   goos,
		Getenv: func(k string) string {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.env[k]
		},
		Exists: func(p string) bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			_, ok := f.files[p]
			return ok
		},
		LookPath: func(name string) (string, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if p, ok := f.bins[name]; ok {
				return p, nil
			}
			return "", exec.ErrNotFound
		},
		Run: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			f.mu.Lock()
			f.runs = append(f.runs, name+" "+strings.Join(args, " "))
			hook := f.onRun
			f.mu.Unlock()
			if hook != nil {
				if err := hook(name, args); err != nil {
					return []byte("E: failure"), err
				}
			}
			return nil, ctx.Err()
		},
		ReadFile: func(p string) ([]byte, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			data, ok := f.files[p]
			if !ok {
				return nil, stderrors.New("no such file")
			}
			return data, nil
		},
		WriteFile: func(p string, data []byte) error {
			f.addFile(p, data)
			return nil
		},
	}
}

func (f *fakeHost) installLinuxTools() {
	f.addBin("Xvfb", "/usr/bin/Xvfb")
	f.addBin("xterm", "/usr/bin/xterm")
	f.addBin("xauth", "/usr/bin/xauth")
	f.addBin("fc-list", "/usr/bin/fc-list")
	f.addFile(xfontsDirs[0], nil)
}

func newTestProvisioner(t *testing.T, class Class, host *fakeHost, goos string) *Provisioner {
	t.Helper()
	v, err := NewVariant(class, host.system(goos), t.TempDir())
	require.NoError(t, err)
	return NewProvisioner(v, logger.NewTestLogger())
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name       string
		goos       string
		installEnv string
		envVar     string
		files      []string
		want       Class
		wantErr    bool
	}{
		{name: "native linux", goos: "linux", want: ClassLinux},
		{name: "config install environment", goos: "linux", installEnv: "lxc-docker", want: ClassContainer},
		{name: "env var install environment", goos: "linux", envVar: "docker", want: ClassContainer},
		{name: "dockerenv file", goos: "linux", files: []string{"/.dockerenv"}, want: ClassContainer},
		{name: "podman containerenv", goos: "linux", files: []string{"/run/.containerenv"}, want: ClassContainer},
		{name: "macos", goos: "darwin", want: ClassDarwin},
		{name: "windows", goos: "windows", want: ClassCygwin},
		{name: "unsupported", goos: "plan9", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			host.env[InstallEnvironmentVar] = tt.envVar
			for _, f := range tt.files {
				host.addFile(f, nil)
			}

			got, err := Detect(host.system(tt.goos), tt.installEnv)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.CodePlatformUnsupported))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureSatisfiedProbesOnce(t *testing.T) {
	host := newFakeHost()
	host.installLinuxTools()
	p := newTestProvisioner(t, ClassLinux, host, "linux")

	for i := 0; i < 10; i++ {
		tc, err := p.Ensure(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/Xvfb", tc.Xvfb)
		assert.Equal(t, "/usr/bin/xterm", tc.Xterm)
		assert.Contains(t, tc.Env, "LANG=en_US.UTF-8")
	}

	assert.Equal(t, 1, p.Attempts())
	assert.Empty(t, p.Dependencies().Missing())
}

func TestEnsureNativeLinuxMissingDependency(t *testing.T) {
	host := newFakeHost()
	host.installLinuxTools()
	host.mu.Lock()
	delete(host.bins, "xterm")
	host.mu.Unlock()
	p := newTestProvisioner(t, ClassLinux, host, "linux")

	_, err := p.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePlatformMissingDependency))
	assert.Equal(t, ArtifactXterm, errors.ArtifactOf(err))

	_, err = p.Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, p.Attempts(), "a missing dependency is probed again")
	assert.Zero(t, host.runCount(), "native linux never installs")

	// Manual install is picked up without revalidation.
	host.addBin("xterm", "/usr/local/bin/xterm")
	tc, err := p.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/xterm", tc.Xterm)
	assert.Equal(t, 3, p.Attempts())

	_, err = p.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, p.Attempts(), "a satisfied check is cached")
}

func TestEnsureContainerInstalls(t *testing.T) {
	host := newFakeHost()
	host.onRun = func(name string, args []string) error {
		if name == "apt-get" && len(args) > 0 && args[0] == "install" {
			host.installLinuxTools()
		}
		return nil
	}
	p := newTestProvisioner(t, ClassContainer, host, "linux")

	tc, err := p.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/fc-list", tc.FcList)

	host.mu.Lock()
	runs := append([]string(nil), host.runs...)
	host.mu.Unlock()
	require.Len(t, runs, 2)
	assert.Equal(t, "apt-get update", runs[0])
	assert.Equal(t, "apt-get install -y "+strings.Join(ContainerPackages, " "), runs[1])

	_, err = p.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, host.runCount(), "cached success must not reinstall")
}

func TestEnsureContainerInstallFailureIsNotRetried(t *testing.T) {
	host := newFakeHost()
	host.onRun = func(name string, args []string) error {
		if len(args) > 0 && args[0] == "install" {
			return stderrors.New("exit status 100")
		}
		return nil
	}
	p := newTestProvisioner(t, ClassContainer, host, "linux")

	_, err := p.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePlatformInstallFailed))
	assert.Equal(t, ArtifactXvfb, errors.ArtifactOf(err))

	before := host.runCount()
	_, err = p.Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, host.runCount(), "failed install must not be retried automatically")
	assert.Equal(t, 1, p.Attempts())
}

func TestEnsureInstallThatLeavesArtifactMissing(t *testing.T) {
	host := newFakeHost()
	p := newTestProvisioner(t, ClassContainer, host, "linux")

	_, err := p.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePlatformInstallFailed))
	assert.Contains(t, err.Error(), "still missing")
}

func TestEnsureCanceledIsNotCached(t *testing.T) {
	host := newFakeHost()
	ctx, cancel := context.WithCancel(context.Background())
	host.onRun = func(string, []string) error {
		cancel()
		return context.Canceled
	}
	p := newTestProvisioner(t, ClassContainer, host, "linux")

	_, err := p.Ensure(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	host.onRun = func(name string, args []string) error {
		if len(args) > 0 && args[0] == "install" {
			host.installLinuxTools()
		}
		return nil
	}
	_, err = p.Ensure(context.Background())
	require.NoError(t, err, "a canceled attempt must not poison the cache")
}

func TestEnsureConcurrentCallersShareOneAttempt(t *testing.T) {
	host := newFakeHost()
	host.installLinuxTools()
	p := newTestProvisioner(t, ClassLinux, host, "linux")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Ensure(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, p.Attempts())
}

func TestEnsureDarwinRequiresFFmpeg(t *testing.T) {
	host := newFakeHost()
	host.addFile("/opt/X11/bin/Xvfb", nil)
	host.addFile("/opt/X11/bin/xterm", nil)
	host.addFile("/opt/X11/bin/xauth", nil)
	p := newTestProvisioner(t, ClassDarwin, host, "darwin")

	_, err := p.Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, ArtifactFFmpeg, errors.ArtifactOf(err))

	host.addFile("/opt/homebrew/bin/ffmpeg", nil)
	tc, err := p.Revalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/opt/homebrew/bin/ffmpeg", tc.FFmpeg)
	assert.Equal(t, "/opt/X11/bin/Xvfb", tc.Xvfb)

	var path string
	for _, kv := range tc.Env {
		if strings.HasPrefix(kv, "PATH=") {
			path = kv
		}
	}
	assert.True(t, strings.HasPrefix(path, "PATH=/opt/X11/bin"), "got %q", path)
}

func TestCygwinMarkerWrittenOnlyOnSuccess(t *testing.T) {
	host := newFakeHost()
	dataDir := t.TempDir()
	root := filepath.Join(dataDir, "cygwin")
	setup := filepath.Join(root, "setup-x86_64.exe")
	marker := filepath.Join(root, cygwinMarker)
	host.addFile(setup, nil)

	fail := true
	host.onRun = func(name string, args []string) error {
		if fail {
			return stderrors.New("setup crashed")
		}
		for _, exe := range []string{"Xvfb.exe", "xterm.exe", "xauth.exe"} {
			host.addFile(filepath.Join(root, "bin", exe), nil)
		}
		host.addFile(filepath.Join(root, "usr", "sbin", "cygserver.exe"), nil)
		return nil
	}

	v, err := NewVariant(ClassCygwin, host.system("windows"), dataDir)
	require.NoError(t, err)
	p := NewProvisioner(v, logger.NewTestLogger())

	_, err = p.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePlatformInstallFailed))
	_, markerErr := host.system("windows").ReadFile(marker)
	assert.Error(t, markerErr, "marker must not exist after a failed install")

	fail = false
	tc, err := p.Revalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "bin", "Xvfb.exe"), tc.Xvfb)
	assert.Equal(t, filepath.Join(root, "usr", "sbin", "cygserver.exe"), tc.Cygserver)
	assert.Equal(t, filepath.Join(root, "bin", "bash.exe"), tc.Shell)

	data, err := host.system("windows").ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, packageDigest(), string(data))
}

func TestCygwinMissingSetupProgram(t *testing.T) {
	host := newFakeHost()
	p := newTestProvisioner(t, ClassCygwin, host, "windows")

	_, err := p.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePlatformInstallFailed))
	assert.Equal(t, ArtifactCygwinSetup, errors.ArtifactOf(err))
}

func TestUnsupportedProvisioner(t *testing.T) {
	p := NewUnsupported(errors.PlatformUnsupported("plan9"), logger.NewTestLogger())
	_, err := p.Ensure(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodePlatformUnsupported))
	assert.Equal(t, Class(""), p.Class())
}
