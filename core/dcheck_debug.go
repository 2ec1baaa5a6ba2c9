//go:build tqdebug

package core

import "fmt"

const dcheckEnabled = true

// dcheck panics when an internal invariant does not hold.
func dcheck(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("taskqueue: "+format, args...))
	}
}
