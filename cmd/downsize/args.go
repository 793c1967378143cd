//go:build linux

package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/carlosprados/downsize/internal/memlock"
)

// parseMemArg parses the memory argument: a non-negative integer with an
// optional case-insensitive binary unit suffix (K, M, G, T). The result is
// rounded up to the page size, since locking operates on whole pages.
func parseMemArg(arg string) (int64, error) {
	i := 0
	for i < len(arg) && arg[i] >= '0' && arg[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("bad memory argument %q", arg)
	}
	value, err := strconv.ParseInt(arg[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad memory argument %q: %w", arg, err)
	}
	var shift uint
	switch rest := arg[i:]; rest {
	case "":
		shift = 0
	case "k", "K":
		shift = 10
	case "m", "M":
		shift = 20
	case "g", "G":
		shift = 30
	case "t", "T":
		shift = 40
	default:
		return 0, fmt.Errorf("bad memory argument %q", arg)
	}
	if value > math.MaxInt64>>shift {
		return 0, fmt.Errorf("memory argument %q overflows", arg)
	}
	return memlock.PageAlign(value << shift), nil
}

// parseCPUArg parses the optional cpu-count argument.
func parseCPUArg(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad cpus argument %q", arg)
	}
	return n, nil
}
