//go:build !darwin && !linux

package keepawake

import (
	"context"

	"github.com/termcam/host/internal/errors"
)

// NewDefaultAdapter returns an adapter that always degrades.
func NewDefaultAdapter() Adapter {
	return &unsupportedAdapter{}
}

type unsupportedAdapter struct{}

func (a *unsupportedAdapter) Acquire(ctx context.Context) (Handle, error) {
	return nil, errors.New(errors.CodeKeepAwakeUnsupported, "keep-awake is unsupported on this host")
}
