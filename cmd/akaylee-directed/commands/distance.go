/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: distance.go
Description: distance and instrument commands. Both drive the build-time pipeline; distance runs
every stage, instrument reuses an existing distance file.
*/

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/pipeline"
	"github.com/kleascm/akaylee-directed/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func pipelineConfig() (*pipeline.Config, error) {
	cfg := &pipeline.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// RunDistance computes and emits the distance map, then instruments.
func RunDistance(cmd *cobra.Command, args []string) error {
	return runPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
		return p.Run(ctx)
	})
}

// RunInstrument builds the instrumentation plan from an existing distance file.
func RunInstrument(cmd *cobra.Command, args []string) error {
	return runPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
		return p.Instrument(ctx)
	})
}

func runPipeline(cmd *cobra.Command, run func(context.Context, *pipeline.Pipeline) (*pipeline.Result, error)) error {
	cfg, err := pipelineConfig()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg, logger.GetLogger())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, err := run(ctx, p)
	if err != nil {
		return err
	}

	fields := logrus.Fields{"plan": res.PlanFile}
	if res.Plan != nil {
		fields["probes"] = res.Plan.NumProbes()
	}
	if res.Map != nil {
		fields["distance_file"] = res.DistanceFile
		fields["blocks"] = res.Map.Len()
		path, err := utils.WriteMetricsResult(cfg.OutDir, "distance", Version, res.Report)
		if err != nil {
			return err
		}
		fields["report"] = path
	}
	if res.Rewrite != nil {
		fields["rewritten_files"] = res.Rewrite.Files
		fields["inserted_probes"] = res.Rewrite.Inserted
	}
	logger.LogStage(string(p.Stage()), time.Since(start), fields)

	out := cmd.OutOrStdout()
	if res.Map != nil {
		fmt.Fprintf(out, "distance map: %s (%d blocks, %d/%d targets resolved)\n",
			res.DistanceFile, res.Map.Len(), res.Report.ResolvedTargets,
			res.Report.ResolvedTargets+res.Report.UnresolvedTargets)
	}
	if res.Plan != nil {
		fmt.Fprintf(out, "instrumentation plan: %s (%d probes)\n", res.PlanFile, res.Plan.NumProbes())
	}
	if res.Rewrite != nil {
		fmt.Fprintf(out, "instrumented sources: %s (%d files, %d probes)\n",
			cfg.InstrumentedDir, res.Rewrite.Files, res.Rewrite.Inserted)
	}
	return nil
}
