package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseSize parses a format size argument: digits optionally followed by
// KB/MB/GB (decimal multipliers 10^3/10^6/10^9), per spec §6.2. It returns
// an error for malformed input and for a size above INT32_MAX, both of which
// the dispatcher reports as CANNOT CREATE FILE. A well-formed size below the
// minimum is returned as is; Format rejects it, and the dispatcher reports
// that as FILESYSTEM HAS NOT ENOUGH SPACE.
func parseSize(raw string) (uint32, error) {
	raw = strings.TrimSpace(raw)
	multiplier := uint64(1)

	switch {
	case strings.HasSuffix(raw, "KB"):
		multiplier = 1_000
		raw = strings.TrimSuffix(raw, "KB")
	case strings.HasSuffix(raw, "MB"):
		multiplier = 1_000_000
		raw = strings.TrimSuffix(raw, "MB")
	case strings.HasSuffix(raw, "GB"):
		multiplier = 1_000_000_000
		raw = strings.TrimSuffix(raw, "GB")
	}

	if raw == "" {
		return 0, fmt.Errorf("missing size digits")
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", raw, err)
	}

	total := n * multiplier
	if total > 1<<31-1 {
		return 0, fmt.Errorf("size %d exceeds the maximum image size", total)
	}
	return uint32(total), nil
}
