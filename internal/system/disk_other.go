//go:build !unix

package system

import "github.com/pkg/errors"

// FreeSpace is not supported on this platform.
func FreeSpace(path string) (uint64, error) {
	return 0, errors.Errorf("free space probe is not supported for %s on this platform", path)
}
