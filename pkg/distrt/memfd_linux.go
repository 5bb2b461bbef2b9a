/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: memfd_linux.go
Description: Anonymous memory file backing the channel on linux.
*/

package distrt

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func createSharedFile() (*os.File, error) {
	fd, err := unix.MemfdCreate("akaylee-dist", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to do memfd_create: %w", err)
	}
	return os.NewFile(uintptr(fd), fmt.Sprintf("/proc/self/fd/%d", fd)), nil
}
