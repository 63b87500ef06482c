//go:build !linux

package sandbox

import "math"

func freeDiskBytes(string) (uint64, error) {
	return math.MaxUint64, nil
}
