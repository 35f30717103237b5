package fonts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termcam/host/internal/logger"
	"github.com/termcam/host/internal/platform"
)

func toolchain(fcList string) ToolchainFunc {
	return func(ctx context.Context) (platform.Toolchain, error) {
		return platform.Toolchain{FcList: fcList, Env: []string{"LANG=en_US.UTF-8"}}, nil
	}
}

func TestFamilies_SortedWithDefaultFirst(t *testing.T) {
	calls := 0
	run := func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		calls++
		assert.Equal(t, "/usr/bin/fc-list", name)
		assert.Equal(t, []string{":", "family"}, args)
		assert.Contains(t, env, "LANG=en_US.UTF-8")
		return []byte("Noto Sans Mono\nDejaVu Sans Mono\n\nNoto Sans Mono\nFira Code\n"), nil
	}
	c := NewCatalog(toolchain("/usr/bin/fc-list"), run, logger.NewTestLogger())

	got := c.Families(context.Background())
	assert.Equal(t, []string{Default, "DejaVu Sans Mono", "Fira Code", "Noto Sans Mono"}, got)

	c.Families(context.Background())
	assert.Equal(t, 1, calls, "listing is cached")

	c.Invalidate()
	c.Families(context.Background())
	assert.Equal(t, 2, calls)
}

func TestFamilies_NoFontconfig(t *testing.T) {
	run := func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		t.Fatal("fc-list must not run when it is not installed")
		return nil, nil
	}
	c := NewCatalog(toolchain(""), run, logger.NewTestLogger())
	assert.Equal(t, []string{Default}, c.Families(context.Background()))
}

func TestFamilies_FailureIsNotCached(t *testing.T) {
	fail := true
	run := func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		if fail {
			return nil, errors.New("exit status 1")
		}
		return []byte("Hack\n"), nil
	}
	c := NewCatalog(toolchain("/usr/bin/fc-list"), run, logger.NewTestLogger())

	assert.Equal(t, []string{Default}, c.Families(context.Background()))
	fail = false
	assert.Equal(t, []string{Default, "Hack"}, c.Families(context.Background()))
}

func TestFamilies_ToolchainError(t *testing.T) {
	tc := func(ctx context.Context) (platform.Toolchain, error) {
		return platform.Toolchain{}, errors.New("missing xterm")
	}
	c := NewCatalog(tc, nil, logger.NewTestLogger())
	assert.Equal(t, []string{Default}, c.Families(context.Background()))
}

func TestResolve(t *testing.T) {
	run := func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
		return []byte("Fira Code\nHack\n"), nil
	}
	c := NewCatalog(toolchain("/usr/bin/fc-list"), run, logger.NewTestLogger())
	ctx := context.Background()

	assert.Equal(t, "Hack", c.Resolve(ctx, "Hack"))
	assert.Equal(t, "Fira Code", c.Resolve(ctx, " Fira Code "))
	assert.Empty(t, c.Resolve(ctx, "Comic Sans"), "unknown fonts fall back to default")
	assert.Empty(t, c.Resolve(ctx, Default))
	assert.Empty(t, c.Resolve(ctx, ""))
}

func TestParseFamilies(t *testing.T) {
	got := parseFamilies("b\r\na\n Default \nb\n")
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, got)
}
