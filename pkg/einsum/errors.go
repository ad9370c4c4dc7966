package einsum

import "github.com/pkg/errors"

// withContext wraps err with a phase name so callers see which stage of
// lowering failed, per spec.md §7's context-chain requirement
// ("Translating to LirMatMul", "Dequantizing output", "Zero point
// compensation", ...).
func withContext(err error, phase string) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(err, phase)
}
