// Package cmn provides common low-level types and utilities shared across
// this module's packages.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// Assert panics unconditionally (regardless of debug.Enabled) when cond is
// false. Reserved for conditions that must never happen in a correct build,
// as opposed to the expensive, debug-gated checks in cmn/debug.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// AssertMsg is Assert with a formatted message.
func AssertMsg(cond bool, msg string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(msg, args...))
	}
}

// AssertNoErr panics if err is non-nil.
func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
