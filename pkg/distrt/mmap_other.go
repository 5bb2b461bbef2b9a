/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: mmap_other.go
Description: Platforms without mmap never attach a shared channel.
*/

//go:build !unix

package distrt

import (
	"fmt"
	"os"
	"runtime"
)

func mapRecord(f *os.File) ([]byte, error) {
	return nil, fmt.Errorf("shared mapping not supported on %s", runtime.GOOS)
}

func unmapRecord(mem []byte) error {
	return nil
}

func createSharedFile() (*os.File, error) {
	return nil, fmt.Errorf("shared mapping not supported on %s", runtime.GOOS)
}
