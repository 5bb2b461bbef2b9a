/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: show.go
Description: show command. Prints the blocks closest to the targets from a distance file, with
demangled function names when the program representation is given, and the latest build report.
*/

package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/kleascm/akaylee-directed/pkg/distance"
	"github.com/kleascm/akaylee-directed/pkg/pipeline"
	"github.com/kleascm/akaylee-directed/pkg/program"
	"github.com/kleascm/akaylee-directed/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BlockDistance is one distance map entry.
type BlockDistance struct {
	Block    string
	Distance float64
}

// ClosestBlocks returns up to n blocks ordered by distance, then block ID.
func ClosestBlocks(m *distance.Map, n int) []BlockDistance {
	out := make([]BlockDistance, 0, m.Len())
	m.Range(func(block string, d float64) {
		out = append(out, BlockDistance{block, d})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Block < out[j].Block
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// RunShow prints the top-N closest blocks.
func RunShow(cmd *cobra.Command, args []string) error {
	outDir := viper.GetString("out_dir")
	path := viper.GetString("distance_file")
	if path == "" {
		path = filepath.Join(outDir, pipeline.DefaultDistanceFile)
	}
	m, err := distance.ReadFile(path)
	if err != nil {
		return err
	}

	var prog *program.Program
	if p := viper.GetString("program"); p != "" {
		if prog, err = program.Load(p); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	var report distance.Report
	if rp, err := utils.LatestMetricsResult(outDir, "distance", &report); err == nil {
		fmt.Fprintf(out, "report %s: %d/%d blocks instrumented (%.1f%%), mean %.3f, p50 %.3f, p90 %.3f\n\n",
			filepath.Base(rp), report.InstrumentedBlocks, report.TotalBlocks, 100*report.Coverage(),
			report.Mean, report.P50, report.P90)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DISTANCE\tBLOCK\tFUNCTION")
	for _, bd := range ClosestBlocks(m, viper.GetInt("top")) {
		fn := "-"
		if prog != nil {
			if _, f, ok := prog.Block(bd.Block); ok {
				fn = f.DisplayName()
			}
		}
		fmt.Fprintf(w, "%.6f\t%s\t%s\n", bd.Distance, bd.Block, fn)
	}
	return w.Flush()
}
