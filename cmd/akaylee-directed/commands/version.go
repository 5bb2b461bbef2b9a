/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: version.go
Description: version command.
*/

package commands

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/kleascm/akaylee-directed/pkg/distrt"
	"github.com/spf13/cobra"
)

// RunVersion prints the toolchain, Go and runtime channel versions.
func RunVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "akaylee-directed %s\n", Version)
	fmt.Fprintf(out, "go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(out, "distance scale %d, channel env %s\n", distrt.Scale, distrt.EnvFD)
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				fmt.Fprintf(out, "revision %s\n", s.Value)
			}
		}
	}
}
