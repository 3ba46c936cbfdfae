package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/dataset"
	"github.com/rushteam/ctrkit/session"
)

func newPredictCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "predict DATA_FILE",
		Short: "Score samples from a 4-line CSR data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.keyWidth == 32 {
				return predictFile[uint32](cmd, g, args[0])
			}
			return predictFile[uint64](cmd, g, args[0])
		},
	}
}

func predictFile[K core.Key](cmd *cobra.Command, g *globalFlags, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := g.logger()
	sess, ps, err := openSession[K](ctx, g, logger)
	if err != nil {
		return err
	}
	defer ps.Close()

	params := sess.Params()
	data, err := dataset.ReadFile[K](path, params.DenseDim, params.Tables[0].SlotNum)
	if err != nil {
		return err
	}
	return score(cmd, sess, data)
}

func newGenerateCmd(g *globalFlags) *cobra.Command {
	var (
		samples int
		seed    uint64
		out     string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Score synthetic samples drawn from the Criteo key ranges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.keyWidth == 32 {
				return generate[uint32](cmd, g, samples, seed, out)
			}
			return generate[uint64](cmd, g, samples, seed, out)
		},
	}
	cmd.Flags().IntVarP(&samples, "num-samples", "n", 1, "Number of samples")
	cmd.Flags().Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "Random seed")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Also write the samples as a data file (one id per slot)")
	return cmd
}

func generate[K core.Key](cmd *cobra.Command, g *globalFlags, samples int, seed uint64, out string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := g.logger()
	sess, ps, err := openSession[K](ctx, g, logger)
	if err != nil {
		return err
	}
	defer ps.Close()

	params := sess.Params()
	samples = min(samples, params.MaxBatchsize)
	gen := dataset.NewGenerator[K](seed)
	gen.OneHot = out != ""
	data, err := gen.Generate(params, samples)
	if err != nil {
		return err
	}
	if out != "" {
		gen.Labels(data)
		if err := dataset.WriteFile(out, data); err != nil {
			return err
		}
		logger.Info("data file written", "path", out, "samples", samples)
	}
	return score(cmd, sess, data)
}

// score 对 data 打分并输出；output 按 max_batchsize 分配，超出部分被截断
func score[K core.Key](cmd *cobra.Command, sess *session.Session[K], data *dataset.Data[K]) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	batchSize := sess.Params().MaxBatchsize
	output := make([]float32, max(batchSize, data.Samples))
	start := time.Now()
	if err := sess.Predict(ctx, data.Dense, data.Keys, data.RowPtrs, output, data.Samples); err != nil {
		return err
	}
	elapsed := time.Since(start)
	printResult(cmd, data.Labels, output, batchSize, min(data.Samples, batchSize), float64(elapsed.Microseconds())/1000)
	return nil
}
