/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: mmap_unix.go
Description: Shared mapping of the distance record on unix systems.
*/

//go:build unix

package distrt

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func mapRecord(f *os.File) ([]byte, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat channel: %w", err)
	}
	if st.Size() < RecordSize {
		return nil, fmt.Errorf("channel too small: %d bytes", st.Size())
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, RecordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap channel: %w", err)
	}
	return mem, nil
}

func unmapRecord(mem []byte) error {
	return unix.Munmap(mem)
}
