// Package debug provides build/verbosity-gated assertions and tracing, kept
// out of the hot allocation path unless explicitly enabled.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"

	"github.com/golang/glog"
)

// Enabled gates the (relatively expensive) consistency assertions sprinkled
// through the allocator's hot paths. Off by default; set SLABALLOC_DEBUG to
// any non-empty value to turn them on, e.g. while chasing a corrupted heap.
var Enabled = os.Getenv("SLABALLOC_DEBUG") != ""

// Assert panics with a generic message if cond is false and debugging is
// enabled. A no-op otherwise: these checks are not meant to run on every
// allocate/free in production use.
func Assert(cond bool) {
	if Enabled && !cond {
		panic("debug assertion failed")
	}
}

// AssertMsg is Assert with a formatted message.
func AssertMsg(cond bool, format string, args ...interface{}) {
	if Enabled && !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Infof logs at V(4) when debugging is enabled; a no-op otherwise.
func Infof(format string, args ...interface{}) {
	if Enabled {
		glog.V(4).Infof(format, args...)
	}
}
