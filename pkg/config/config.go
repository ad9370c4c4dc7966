// Package config holds the small set of knobs this module exposes as
// a library: kernel registry overrides and the batched evaluator's
// parallelism threshold. It has no logging-verbosity setting. There is
// no CLI or file-format binding here — the CLI/loader is an external
// collaborator this core never depends on — so functional options is
// the in-library analogue of the teacher's own Context-style
// configuration.
package config

import "github.com/gomlx/contract/pkg/kernel"

// Options configures a batched-evaluator call.
type Options struct {
	// Kernels overrides the default kernel registry. Nil means use
	// kernel.Ops().
	Kernels *kernel.Registry

	// ParallelThreshold is the minimum number of broadcast-prefix
	// iterations below which the batched evaluator runs sequentially
	// rather than paying errgroup's goroutine overhead.
	ParallelThreshold int
}

// Option mutates an Options value during construction.
type Option func(*Options)

// Default returns the options this module uses when the caller
// supplies none.
func Default() Options {
	return Options{
		Kernels:           kernel.Ops(),
		ParallelThreshold: 8,
	}
}

// New builds an Options starting from Default and applying opts in
// order.
func New(opts ...Option) Options {
	o := Default()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithKernels overrides the kernel registry.
func WithKernels(r *kernel.Registry) Option {
	return func(o *Options) { o.Kernels = r }
}

// WithParallelThreshold sets the broadcast-prefix iteration count at or
// above which the batched evaluator parallelizes (when there is more
// than one iteration).
func WithParallelThreshold(n int) Option {
	return func(o *Options) { o.ParallelThreshold = n }
}
