//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func mapReadOnly(fd *os.File, size int) ([]byte, func() error, error) {
	section, err := windows.CreateFileMapping(windows.Handle(fd.Fd()), nil, windows.PAGE_READONLY, 0, 0, nil)
	if err != nil {
		return nil, nil, err
	}
	addr, err := windows.MapViewOfFile(section, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	// the view holds its own reference to the section
	_ = windows.CloseHandle(section)
	if err != nil {
		return nil, nil, err
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return b, func() error { return windows.UnmapViewOfFile(addr) }, nil
}

func advise([]byte, Hint) error { return nil }

func willNeed([]byte) error { return nil }
