//go:build !linux

package atclient

import (
	"fmt"
	"io"
	"runtime"
)

// Open is only implemented on linux.
func Open(path string, baud int) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("atclient: serial devices are not supported on %s", runtime.GOOS)
}
