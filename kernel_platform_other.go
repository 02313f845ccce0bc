//go:build !freebsd

/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

// newFreebsdAdapterIfSupported is nil on every platform but freebsd; see
// kernel_freebsd.go for the real implementation.
func newFreebsdAdapterIfSupported() KernelAdapter {
	return nil
}
