//go:build unix

package rag

import "syscall"

func isProcessRunning(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	switch err {
	case nil, syscall.EPERM:
		return true
	default:
		return false
	}
}
