package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/paramserver"
	"github.com/rushteam/ctrkit/store"
)

type loadFlags struct {
	ttl       time.Duration
	batchSize int
}

func newLoadCmd(g *globalFlags) *cobra.Command {
	f := &loadFlags{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Write the sparse model files of a model into its Redis tables",
		Long: `Reads inference.sparse_model_files and writes every embedding into Redis under
{parameter_server.key_prefix or ctrkit:MODEL}:TABLE_ID:KEY, encoded with parameter_server.codec.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.keyWidth == 32 {
				return loadTables[uint32](cmd, g, f)
			}
			return loadTables[uint64](cmd, g, f)
		},
	}
	cmd.Flags().DurationVar(&f.ttl, "ttl", 0, "Expiration of written keys (0 = no expiration)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Keys per Redis pipeline (0 = default)")
	return cmd
}

func loadTables[K core.Key](cmd *cobra.Command, g *globalFlags, f *loadFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := g.logger()

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	params, err := config.NewInferenceParams(cfg)
	if err != nil {
		return err
	}
	if len(params.SparseModelFiles) == 0 {
		return core.Errorf(core.ModuleConfig, core.ErrorCodeConfig, "inference.sparse_model_files is empty")
	}
	psc := params.ParameterServer
	if psc == nil || psc.RedisAddr == "" {
		return core.Errorf(core.ModuleConfig, core.ErrorCodeConfig, "parameter_server.redis_addr is required")
	}
	codec, err := store.CodecByName(psc.Codec)
	if err != nil {
		return err
	}

	client, err := store.NewRedisClient(ctx, psc.RedisAddr, psc.RedisPassword, psc.RedisDB)
	if err != nil {
		return err
	}
	defer client.Close()

	baseDir := filepath.Dir(g.configPath)
	for i, tp := range params.Tables {
		path := params.SparseModelFiles[i]
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		keys, vectors, err := paramserver.LoadSparseModelFile[K](path, tp.VecSize)
		if err != nil {
			return err
		}

		opts := []store.RedisTableOption{store.WithRedisCodec(codec)}
		if f.batchSize > 0 {
			opts = append(opts, store.WithRedisBatchSize(f.batchSize))
		}
		prefix := paramserver.TablePrefix(psc.KeyPrefix, g.model, i)
		table, err := store.NewRedisTable[K](client, prefix, tp.VecSize, opts...)
		if err != nil {
			return err
		}
		start := time.Now()
		if err := table.Load(ctx, keys, vectors, f.ttl); err != nil {
			return err
		}
		logger.Info("table loaded",
			"model", g.model, "table", i, "prefix", prefix, "keys", len(keys), "codec", codec.Name(), "elapsed", time.Since(start))
	}
	return nil
}
