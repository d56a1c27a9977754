//go:build !windows

package ipc

import "syscall"

// daemonSysProcAttr detaches the forked daemon from the CLI's session so it
// survives terminal close.
func daemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
