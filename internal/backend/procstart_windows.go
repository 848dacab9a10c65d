//go:build windows

package backend

import (
	"syscall"
	"unsafe"
)

// startTimeUnix returns the process creation time of pid as Unix seconds
// using GetProcessTimes, or 0 on error.
func startTimeUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return 0
	}
	defer func() { _ = syscall.CloseHandle(h) }()

	var creation, exit, kernel, user syscall.Filetime
	proc := kernel32.NewProc("GetProcessTimes")
	ret, _, _ := proc.Call(uintptr(h),
		uintptr(unsafe.Pointer(&creation)), uintptr(unsafe.Pointer(&exit)),
		uintptr(unsafe.Pointer(&kernel)), uintptr(unsafe.Pointer(&user)))
	if ret == 0 {
		return 0
	}
	// FILETIME counts 100ns ticks since 1601-01-01 UTC.
	const ticksPerSecond = 10000000
	const epochDiff = 11644473600
	ft := (uint64(creation.HighDateTime) << 32) | uint64(creation.LowDateTime)
	return int64(ft/ticksPerSecond) - epochDiff
}
