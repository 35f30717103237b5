// Package fonts lists the font families xterm can render on this host and
// installs extra font files from URLs.
package fonts

import (
	"context"
	"net/http"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/platform"
)

// Default selects xterm's built-in font.
const Default = "Default"

// ToolchainFunc returns the provisioned toolchain, e.g. Provisioner.Ensure.
type ToolchainFunc func(ctx context.Context) (platform.Toolchain, error)

// RunFunc runs a command and returns its combined output.
type RunFunc func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

// Catalog caches the output of `fc-list : family`.
type Catalog struct {
	toolchain ToolchainFunc
	run       RunFunc
	log       zerolog.Logger
	http      *http.Client

	mu       sync.Mutex
	families []string
}

// NewCatalog creates a catalog. A nil run uses os/exec.
func NewCatalog(toolchain ToolchainFunc, run RunFunc, log zerolog.Logger) *Catalog {
	if run == nil {
		run = execRun
	}
	return &Catalog{toolchain: toolchain, run: run, log: log, http: &http.Client{}}
}

func execRun(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	return cmd.Output()
}

// Families returns Default followed by the sorted installed families.
// When fontconfig is unavailable only Default is returned. A successful
// listing is cached until Invalidate.
func (c *Catalog) Families(ctx context.Context) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.families != nil {
		return append([]string(nil), c.families...)
	}

	tc, err := c.toolchain(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("toolchain unavailable, fonts limited to default")
		return []string{Default}
	}
	if tc.FcList == "" {
		return []string{Default}
	}

	out, err := c.run(ctx, tc.Env, tc.FcList, ":", "family")
	if err != nil {
		c.log.Warn().Err(err).Msg("could not enumerate fonts with fc-list")
		return []string{Default}
	}

	c.families = append([]string{Default}, parseFamilies(string(out))...)
	c.log.Debug().Int("count", len(c.families)-1).Msg("font families loaded")
	return append([]string(nil), c.families...)
}

// Resolve returns the family to pass to xterm -fa, or "" for the default
// font. Unknown families fall back to the default.
func (c *Catalog) Resolve(ctx context.Context, name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == Default {
		return ""
	}
	for _, f := range c.Families(ctx) {
		if f == name {
			return name
		}
	}
	c.log.Info().Str("font", name).Msg("unknown font, using default")
	return ""
}

// Invalidate drops the cached listing, e.g. after fonts were installed.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.families = nil
	c.mu.Unlock()
}

func parseFamilies(out string) []string {
	seen := make(map[string]bool)
	var families []string
	for _, line := range strings.Split(out, "\n") {
		f := strings.TrimSpace(line)
		if f == "" || f == Default || seen[f] {
			continue
		}
		seen[f] = true
		families = append(families, f)
	}
	sort.Strings(families)
	return families
}
