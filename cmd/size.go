/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"
	"strconv"
	"strings"
)

// parseSize parses a human readable size like 2M or 512K into bytes.
// suffixes are binary (K=1024, M=1024^2, G=1024^3) matching fio
// conventions, and fractional values like 1.5M are accepted
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	// peel off an optional suffix
	mult := int64(1)
	switch s[len(s)-1] {
	case 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if val <= 0 {
		return 0, fmt.Errorf("size must be positive, got %v", val)
	}

	return int64(val * float64(mult)), nil
}
