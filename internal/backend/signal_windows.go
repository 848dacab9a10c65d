//go:build windows

package backend

import (
	"os/exec"
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

// signalGroup approximates Unix group signaling: Windows has no SIGTERM and
// no process groups we can signal, so any signal terminates the process by
// handle. A PID that cannot be opened is treated as already gone.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid < 0 {
		pid = -pid
	}
	if pid == 0 {
		return nil
	}
	if sig == 0 {
		if processExists(pid) {
			return nil
		}
		return syscall.ESRCH
	}
	h, err := openProcess(processTerminate, pid)
	if err != nil {
		return nil
	}
	defer closeHandle(h)
	ret, _, callErr := procTerminateProcess.Call(uintptr(h), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := openProcess(processQueryInformation, pid)
	if err != nil {
		return false
	}
	_ = closeHandle(h)
	return true
}

func openProcess(access uint32, pid int) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(uint32(pid)))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(h syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(h))
	if ret == 0 {
		return err
	}
	return nil
}

func noopCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", "rem")
}

func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}
