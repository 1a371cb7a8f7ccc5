//go:build !windows

package tasks

import "syscall"

// detachedProcAttr puts the worker in its own session so it outlives the
// spawning terminal.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
