// Package xlog is a thin wrapper around klog, the structured logging
// library the teacher module depends on, giving the lowering core and
// batched evaluator a consistent place to log rewrite/kernel-selection
// diagnostics without importing klog directly everywhere.
package xlog

import "k8s.io/klog/v2"

// Verbosity levels used across this module.
const (
	// VInjection logs axis-injection patches emitted by the MKN resolver.
	VInjection = klog.Level(2)
	// VKernelSelect logs kernel-selection decisions.
	VKernelSelect = klog.Level(3)
)

// Injectionf logs, at VInjection, that an axis-injection patch was
// emitted for the named node and why.
func Injectionf(node, axis, reason string) {
	klog.V(VInjection).Infof("einsum: node %s injecting %s axis: %s", node, axis, reason)
}

// KernelSelectf logs, at VKernelSelect, the kernel chosen for a lowering.
func KernelSelectf(aDT, bDT, accDT string, m, k, n int) {
	klog.V(VKernelSelect).Infof("kernel: selected (%s,%s,%s) for m=%d k=%d n=%d", aDT, bDT, accDT, m, k, n)
}

// FastPathFallback warns that the batched evaluator fell back to the
// general broadcast-aware packing loop for a shape it could not
// special-case.
func FastPathFallback(reason string) {
	klog.Warningf("matmul: falling back to general packing loop: %s", reason)
}
