package matte

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/flagmatte/compose"
	"github.com/chaos-io/flagmatte/raster"
	"github.com/chaos-io/flagmatte/util"
)

// Result 一次流程的产物
type Result struct {
	Mask      *raster.Mask
	Matted    *raster.Image
	Composite *raster.Image
}

// Final 有合成图时返回合成图，否则返回抠图结果
func (r *Result) Final() *raster.Image {
	if r.Composite != nil {
		return r.Composite
	}
	return r.Matted
}

type Pipeline struct {
	extractor *Extractor
	opts      compose.Options
}

func NewPipeline(extractor *Extractor, opts compose.Options) *Pipeline {
	return &Pipeline{extractor: extractor, opts: opts}
}

func (p *Pipeline) Extractor() *Extractor {
	return p.extractor
}

func (p *Pipeline) Options() compose.Options {
	return p.opts
}

// Matte 提取掩码并写入 alpha
func (p *Pipeline) Matte(ctx context.Context, img *raster.Image) (*Result, error) {
	defer util.Trace("matte")()

	mask, err := p.extractor.Extract(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("extract matte: %w", err)
	}

	matted, err := compose.ApplyMatte(img, mask)
	if err != nil {
		return nil, fmt.Errorf("apply matte: %w", err)
	}
	return &Result{Mask: mask, Matted: matted}, nil
}

// Run bg 为 nil 时只抠图
func (p *Pipeline) Run(ctx context.Context, img, bg *raster.Image) (*Result, error) {
	res, err := p.Matte(ctx, img)
	if err != nil {
		return nil, err
	}
	if bg == nil {
		return res, nil
	}

	res.Composite, err = p.opts.Composite(res.Matted, bg)
	if err != nil {
		return nil, fmt.Errorf("composite: %w", err)
	}
	return res, nil
}

// FetchFunc 获取背景图
type FetchFunc func(ctx context.Context) (*raster.Image, error)

// RunWithBackground 抠图与获取背景并行，任一失败都取消另一个
func (p *Pipeline) RunWithBackground(ctx context.Context, img *raster.Image, fetch FetchFunc) (*Result, error) {
	if fetch == nil {
		return p.Run(ctx, img, nil)
	}

	var (
		res *Result
		bg  *raster.Image
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = p.Matte(gctx, img)
		return err
	})
	g.Go(func() error {
		var err error
		bg, err = fetch(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var err error
	res.Composite, err = p.opts.Composite(res.Matted, bg)
	if err != nil {
		return nil, fmt.Errorf("composite: %w", err)
	}
	return res, nil
}
