//go:build windows

package ipc

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// daemonSysProcAttr detaches the forked daemon from the CLI's console.
func daemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
	}
}
