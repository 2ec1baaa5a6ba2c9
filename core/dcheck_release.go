//go:build !tqdebug

package core

const dcheckEnabled = false

func dcheck(cond bool, format string, args ...any) {}
