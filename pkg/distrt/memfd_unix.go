/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: memfd_unix.go
Description: Unlinked temporary file backing the channel on unix systems without memfd.
*/

//go:build unix && !linux

package distrt

import (
	"fmt"
	"os"
)

func createSharedFile() (*os.File, error) {
	f, err := os.CreateTemp("", "akaylee-dist-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create channel file: %w", err)
	}
	os.Remove(f.Name())
	return f, nil
}
