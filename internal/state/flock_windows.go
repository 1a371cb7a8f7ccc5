//go:build windows

package state

import (
	"os"
)

// tryLockExclusive is a no-op on Windows; writers are only serialized
// within one process there.
// TODO: use LockFileEx from golang.org/x/sys/windows.
func tryLockExclusive(f *os.File) (bool, error) {
	return true, nil
}

func unlockFile(f *os.File) error {
	return nil
}
