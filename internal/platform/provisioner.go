package platform

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/termcam/host/internal/errors"
)

// Provisioner guarantees the toolchain for the detected platform.
//
// A satisfied check is cached so repeated Ensure calls never re-probe.
// A failed install is cached too, so an installer is never re-run
// automatically. A missing dependency on a manual-install platform is not
// cached: the operator installs it and the next Ensure finds it. A check
// aborted by its caller's context is not cached. Invalidate clears the
// cache.
type Provisioner struct {
	variant Variant
	// unsupported is set when no variant exists for the host.
	unsupported error
	log         zerolog.Logger

	// sem serializes probe/install while letting waiters honor their ctx.
	sem chan struct{}

	mu       sync.Mutex
	cached   *outcome
	deps     DependencySet
	attempts int
}

type outcome struct {
	tc  Toolchain
	err error
}

// NewProvisioner wraps a variant.
func NewProvisioner(v Variant, log zerolog.Logger) *Provisioner {
	return &Provisioner{variant: v, log: log, sem: make(chan struct{}, 1)}
}

// NewUnsupported returns a Provisioner whose Ensure always fails with err.
func NewUnsupported(err error, log zerolog.Logger) *Provisioner {
	return &Provisioner{unsupported: err, log: log, sem: make(chan struct{}, 1)}
}

// Class returns the platform class, or "" when unsupported.
func (p *Provisioner) Class() Class {
	if p.variant == nil {
		return ""
	}
	return p.variant.Class()
}

// Ensure returns the toolchain once every required artifact is present,
// installing missing ones where the platform allows it.
func (p *Provisioner) Ensure(ctx context.Context) (Toolchain, error) {
	if p.unsupported != nil {
		return Toolchain{}, p.unsupported
	}
	if o := p.cachedOutcome(); o != nil {
		return o.tc, o.err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return Toolchain{}, ctx.Err()
	}
	defer func() { <-p.sem }()

	// Another caller may have finished while we waited.
	if o := p.cachedOutcome(); o != nil {
		return o.tc, o.err
	}

	tc, err := p.check(ctx)
	if err != nil && ctx.Err() != nil {
		p.log.Warn().Err(err).Msg("platform check aborted")
		return Toolchain{}, err
	}

	if err == nil || errors.IsCode(err, errors.CodePlatformInstallFailed) {
		p.mu.Lock()
		p.cached = &outcome{tc: tc, err: err}
		p.mu.Unlock()
	}

	if err != nil {
		p.log.Error().Err(err).Str("class", string(p.variant.Class())).
			Str("artifact", errors.ArtifactOf(err)).Msg("platform dependencies not satisfied")
	} else {
		p.log.Info().Str("class", string(tc.Class)).Str("xvfb", tc.Xvfb).Str("xterm", tc.Xterm).
			Msg("platform dependencies satisfied")
	}
	return tc, err
}

// Invalidate drops the cached outcome so the next Ensure probes again.
func (p *Provisioner) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
	p.log.Info().Msg("platform dependency cache invalidated")
}

// Revalidate invalidates the cache and checks again.
func (p *Provisioner) Revalidate(ctx context.Context) (Toolchain, error) {
	p.Invalidate()
	return p.Ensure(ctx)
}

// Dependencies returns the most recent probe result.
func (p *Provisioner) Dependencies() DependencySet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deps
}

// Attempts returns how many probe/install rounds have run.
func (p *Provisioner) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *Provisioner) cachedOutcome() *outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

func (p *Provisioner) probe(ctx context.Context) (DependencySet, Toolchain) {
	deps, tc := p.variant.Probe(ctx)
	p.mu.Lock()
	p.deps = deps
	p.mu.Unlock()
	return deps, tc
}

func (p *Provisioner) check(ctx context.Context) (Toolchain, error) {
	p.mu.Lock()
	p.attempts++
	p.mu.Unlock()

	deps, tc := p.probe(ctx)
	missing := deps.Missing()
	if len(missing) == 0 {
		return tc, nil
	}

	if !p.variant.CanInstall() {
		return Toolchain{}, errors.MissingDependency(missing[0].Name)
	}

	names := make([]string, len(missing))
	for i, a := range missing {
		names[i] = a.Name
	}
	p.log.Info().Strs("missing", names).Msg("installing platform dependencies")

	if err := p.variant.Install(ctx, missing); err != nil {
		if ctx.Err() != nil {
			return Toolchain{}, ctx.Err()
		}
		var coded *errors.CodedError
		if stderrors.As(err, &coded) && coded.Code == errors.CodePlatformInstallFailed {
			return Toolchain{}, coded
		}
		return Toolchain{}, errors.InstallFailed(missing[0].Name, err)
	}

	deps, tc = p.probe(ctx)
	if still := deps.Missing(); len(still) > 0 {
		return Toolchain{}, errors.InstallFailed(still[0].Name, fmt.Errorf("still missing after install"))
	}
	return tc, nil
}
