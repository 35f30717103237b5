package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termcam/host/internal/errors"
)

func validConfig() Config {
	return Config{TerminalProgram: "bash", TerminalColumns: 80, TerminalRows: 24}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "blank program", mutate: func(c *Config) { c.TerminalProgram = "  " }},
		{name: "zero columns", mutate: func(c *Config) { c.TerminalColumns = 0 }},
		{name: "negative rows", mutate: func(c *Config) { c.TerminalRows = -1 }},
		{name: "huge columns", mutate: func(c *Config) { c.TerminalColumns = MaxTerminalCells + 1 }},
		{name: "negative font size", mutate: func(c *Config) { c.FontSize = -2 }},
		{name: "font and size", mutate: func(c *Config) { c.FontName = "DejaVu Sans Mono"; c.FontSize = 14 }, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeConfigInvalid), "got %v", err)
		})
	}
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("cam1"))
	assert.NoError(t, ValidateID("front-door.cam_2"))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID("has space"))
	assert.Error(t, ValidateID("../etc"))
}

func TestConfigEqual(t *testing.T) {
	a := validConfig()
	b := validConfig()
	assert.True(t, a.Equal(b))

	b.TerminalColumns = 100
	assert.False(t, a.Equal(b))

	c := validConfig()
	c.FontName = "Monospace"
	assert.False(t, a.Equal(c))
}

func TestScreenGeometryIsEvenAndGrows(t *testing.T) {
	small := validConfig().ScreenGeometry()
	assert.Zero(t, small.Width%2)
	assert.Zero(t, small.Height%2)

	wide := validConfig()
	wide.TerminalColumns = 160
	assert.Greater(t, wide.ScreenGeometry().Width, small.Width)

	big := validConfig()
	big.FontSize = 24
	assert.Greater(t, big.ScreenGeometry().Height, small.Height)
	assert.Equal(t, DefaultFontSize, validConfig().EffectiveFontSize())
}

func TestStatePredicates(t *testing.T) {
	assert.True(t, StateStopped.Idle())
	assert.True(t, StateFailed.Idle())
	assert.False(t, StateRunning.Idle())

	assert.True(t, StateStarting.Transitional())
	assert.True(t, StateRestarting.Transitional())
	assert.False(t, StateRunning.Transitional())
	assert.False(t, StateStopping.Transitional())
}
