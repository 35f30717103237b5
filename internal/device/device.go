// Package device defines the camera device model shared by the registry,
// the supervisor and the control API.
package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/termcam/host/internal/errors"
)

// Config is the desired configuration of one virtual camera.
// Configs are plain values; two configs are identical when Equal says so.
type Config struct {
	TerminalProgram string `json:"terminalProgram"`
	TerminalColumns int    `json:"terminalColumns"`
	TerminalRows    int    `json:"terminalRows"`
	FontName        string `json:"fontName,omitempty"`
	FontSize        int    `json:"fontSize,omitempty"`
}

const (
	MaxTerminalCells = 1000
	MaxFontSize      = 96
	DefaultFontSize  = 12
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateID checks a user-assigned device identifier.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return errors.InvalidConfig(fmt.Sprintf("device id %q must be 1-64 characters of letters, digits, '.', '_' or '-'", id))
	}
	return nil
}

// Validate checks that c can be used to start a process pair.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TerminalProgram) == "" {
		return errors.InvalidConfig("terminalProgram is required")
	}
	if c.TerminalColumns <= 0 || c.TerminalColumns > MaxTerminalCells {
		return errors.InvalidConfig(fmt.Sprintf("terminalColumns must be between 1 and %d", MaxTerminalCells))
	}
	if c.TerminalRows <= 0 || c.TerminalRows > MaxTerminalCells {
		return errors.InvalidConfig(fmt.Sprintf("terminalRows must be between 1 and %d", MaxTerminalCells))
	}
	if c.FontSize < 0 || c.FontSize > MaxFontSize {
		return errors.InvalidConfig(fmt.Sprintf("fontSize must be between 0 and %d", MaxFontSize))
	}
	return nil
}

// Equal reports whether two configs would start identical processes.
func (c Config) Equal(other Config) bool {
	return c == other
}

// EffectiveFontSize returns FontSize or the default when unset.
func (c Config) EffectiveFontSize() int {
	if c.FontSize == 0 {
		return DefaultFontSize
	}
	return c.FontSize
}

// Geometry is the pixel size of the virtual screen backing a terminal.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// ScreenGeometry derives the virtual screen size from the terminal grid and
// font size. Cells are approximated at 0.6em wide and 1.25em tall, which
// matches common monospace faces closely enough for xterm -maximized to
// fill the screen. Both sides are rounded up to even numbers for h264.
func (c Config) ScreenGeometry() Geometry {
	size := c.EffectiveFontSize()
	cellW := (size*3 + 4) / 5
	cellH := (size*5 + 3) / 4
	w := c.TerminalColumns*cellW + 4
	h := c.TerminalRows*cellH + 4
	return Geometry{Width: even(w), Height: even(h)}
}

func even(n int) int {
	if n%2 != 0 {
		return n + 1
	}
	return n
}
