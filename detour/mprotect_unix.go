//go:build unix && (amd64 || arm64)

package detour

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mprotectExec = unix.PROT_EXEC
	mprotectRX   = unix.PROT_READ | unix.PROT_EXEC
	mprotectRWX  = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

// mprotect changes the protection of every page that buf's capacity
// touches.
func mprotect(buf []byte, flags int) error {
	pageSize := unix.Getpagesize()

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	pageStart := addr &^ (uintptr(pageSize) - 1)
	regionSize := (int(addr-pageStart) + cap(buf) + pageSize - 1) &^ (pageSize - 1)

	region := unsafe.Slice((*byte)(unsafe.Pointer(pageStart)), regionSize)
	return unix.Mprotect(region, flags)
}
