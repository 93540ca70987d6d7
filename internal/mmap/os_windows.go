//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func osMapFile(f *os.File, size int, syncMap bool) ([]byte, func([]byte) error, func([]byte) error, error) {
	if syncMap {
		// No MAP_SYNC equivalent on Windows.
		return nil, nil, nil, ErrSyncUnsupported
	}

	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE, 0, 0, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	// The view holds a reference; the mapping handle can go immediately.
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		return nil, nil, nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)

	fileHandle := windows.Handle(f.Fd())

	unmap := func(b []byte) error {
		return windows.UnmapViewOfFile(addr)
	}
	flush := func(b []byte) error {
		if len(b) == 0 {
			return nil
		}
		if err := windows.FlushViewOfFile(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b))); err != nil {
			return err
		}
		// FlushViewOfFile does not wait for the disk write.
		return windows.FlushFileBuffers(fileHandle)
	}
	return data, unmap, flush, nil
}

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	// VirtualAlloc with MEM_COMMIT uses demand-paging, similar to Unix mmap.
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)

	return data, func(b []byte) error {
		return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
	}, nil
}

func osAdvise(data []byte, pattern AccessPattern) error {
	// Windows has no madvise equivalent; hints are a no-op.
	_ = data
	_ = pattern
	return nil
}
