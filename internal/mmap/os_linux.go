//go:build linux

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func osMapFile(f *os.File, size int, syncMap bool) ([]byte, func([]byte) error, func([]byte) error, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE

	if syncMap {
		// MAP_SYNC is only valid together with MAP_SHARED_VALIDATE and is
		// granted only on DAX-capable filesystems. EOPNOTSUPP/EINVAL mean
		// the caller should fall back to a regular shared mapping.
		data, err := unix.Mmap(int(f.Fd()), 0, size, prot,
			unix.MAP_SHARED_VALIDATE|unix.MAP_SYNC)
		if err == unix.EOPNOTSUPP || err == unix.EINVAL {
			return nil, nil, nil, ErrSyncUnsupported
		}
		if err != nil {
			return nil, nil, nil, err
		}
		return data, unix.Munmap, msync, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, nil, err
	}
	return data, unix.Munmap, msync, nil
}

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_ANON | unix.MAP_PRIVATE

	data, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}

func msync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC)
}

func osAdvise(data []byte, pattern AccessPattern) error {
	if len(data) == 0 {
		return nil
	}

	var advice int
	switch pattern {
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessRandom:
		advice = unix.MADV_RANDOM
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	case AccessDontNeed:
		advice = unix.MADV_DONTNEED
	default:
		advice = unix.MADV_NORMAL
	}

	// madvise requires page-aligned addresses; mapping bases always are.
	// EINVAL from a misaligned sub-slice is advisory and non-critical.
	err := unix.Madvise(data, advice)
	if err == unix.EINVAL {
		return nil
	}
	return err
}
