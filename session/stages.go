package session

import (
	"context"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/ctrkit/batch"
	"github.com/rushteam/ctrkit/core"
)

// lookup 并发查询各表，向量写入 scratch.Vectors[t]
func (s *Session[K]) lookup(ctx context.Context, c *call[K]) error {
	tables := s.params.Tables
	c.stats = make([]core.LookupStats, len(tables))
	for t, tp := range tables {
		c.scratch.Vectors[t] = batch.Float32s(c.scratch.Vectors[t], len(c.in.Sparse[t].Keys)*tp.VecSize)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for t := range tables {
		eg.Go(func() error {
			stats, err := s.ps.Lookup(egCtx, s.model, t, c.in.Sparse[t].Keys, c.scratch.Vectors[t])
			if err != nil {
				return err
			}
			c.stats[t] = stats
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	misses := 0
	for t, st := range c.stats {
		s.monitor.RecordLookup(s.model, t, st)
		misses += st.Misses
	}
	if misses > 0 {
		s.logger.Debug("lookup misses resolved to zero vectors",
			"request_id", c.requestID, "misses", misses)
	}
	return nil
}

// combine 对每张表池化，第 t 张表的结果为 n × slot_num × vec_size
func (s *Session[K]) combine(ctx context.Context, c *call[K]) error {
	for t, tp := range s.params.Tables {
		c.scratch.Pooled[t] = batch.Float32s(c.scratch.Pooled[t], c.n*tp.BlockWidth())
		if err := s.combiners[t].Combine(ctx, c.scratch.Pooled[t], c.scratch.Vectors[t], c.in.Sparse[t].RowPtrs); err != nil {
			return err
		}
	}
	return nil
}

// forward 按 [表 0 块 | 表 1 块 | ... | dense] 拼接每个样本的特征并打分
func (s *Session[K]) forward(ctx context.Context, c *call[K]) error {
	n := c.n
	c.scratch.Scores = batch.Float32s(c.scratch.Scores, n)
	if n == 0 {
		return nil
	}

	features := batch.Matrix{
		Data: batch.Float32s(c.scratch.Features, n*s.width),
		Rows: n,
		Cols: s.width,
	}
	c.scratch.Features = features.Data
	for i := 0; i < n; i++ {
		row := features.Row(i)
		off := 0
		for t, tp := range s.params.Tables {
			bw := tp.BlockWidth()
			off += copy(row[off:], c.scratch.Pooled[t][i*bw:(i+1)*bw])
		}
		copy(row[off:], c.in.DenseRow(i))
	}

	if err := s.callScorer(ctx, features, c.scratch.Scores); err != nil {
		return err
	}
	if err := checkFinite(s.scorer.Name(), c.scratch.Scores); err != nil {
		return err
	}

	if s.transform != nil {
		if err := s.transform.Apply(c.scratch.Scores); err != nil {
			return core.WrapError(core.ModuleSession, core.ErrorCodeForwardFailure, err, "output transform")
		}
		if err := checkFinite("output transform", c.scratch.Scores); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session[K]) callScorer(ctx context.Context, features batch.Matrix, out []float32) error {
	if s.serialForward {
		s.forwardMu.Lock()
		defer s.forwardMu.Unlock()
	}
	err := s.scorer.Forward(ctx, features.Data, features.Rows, features.Cols, out)
	if err == nil {
		return nil
	}
	if core.IsForwardFailure(err) {
		return err
	}
	return core.WrapError(core.ModuleSession, core.ErrorCodeForwardFailure, err, "scorer %s", s.scorer.Name())
}

func checkFinite(name string, scores []float32) error {
	for i, v := range scores {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return core.Errorf(core.ModuleSession, core.ErrorCodeForwardFailure,
				"%s produced non-finite score %v for sample %d", name, v, i)
		}
	}
	return nil
}
