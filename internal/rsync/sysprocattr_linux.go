//go:build linux

package rsync

import "syscall"

// The child leads a new session with the pty as controlling terminal, so its
// pid is also its process group id. Pdeathsig stops rsync if we die first.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid:    true,
		Setctty:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
