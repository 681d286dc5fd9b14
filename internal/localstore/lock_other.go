//go:build !unix

package localstore

import "os"

// Without flock the in-process mutex is the only serialization.
func lockFile(f *os.File, exclusive bool) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}
