package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaos-io/flagmatte/matte"
	"github.com/chaos-io/flagmatte/raster"
	"github.com/chaos-io/flagmatte/util"
	nhttp "github.com/chaos-io/flagmatte/util/http"
)

type matteOptions struct {
	input      string
	output     string
	country    string
	background string
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// loadImage 本地路径或 http(s) 地址
func loadImage(ctx context.Context, cli nhttp.IClient, src string) (*raster.Image, error) {
	if isURL(src) {
		return util.DownloadImage(ctx, cli, src)
	}
	return util.OpenImage(src)
}

// outputPath 未指定输出时写到输入旁边，名称为 <base>-bg-removed.png
func outputPath(input, output string) string {
	if output != "" {
		return output
	}
	if isURL(input) {
		return raster.OutputName(filepath.Base(strings.SplitN(input, "?", 2)[0]))
	}
	return filepath.Join(filepath.Dir(input), raster.OutputName(filepath.Base(input)))
}

func newMatteCmd(root *rootOptions) *cobra.Command {
	opts := &matteOptions{}
	cmd := &cobra.Command{
		Use:   "matte",
		Short: "去除背景，输出带透明通道的 PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatte(cmd.Context(), root, opts, nil)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "输入图片路径或 URL")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "输出 PNG 路径")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newCompositeCmd(root *rootOptions) *cobra.Command {
	opts := &matteOptions{}
	cmd := &cobra.Command{
		Use:   "composite",
		Short: "去除背景并合成到国旗或指定背景上",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.country == "") == (opts.background == "") {
				return errors.New("exactly one of --country or --background is required")
			}
			return runMatte(cmd.Context(), root, opts, func(a *app) matte.FetchFunc {
				if opts.country != "" {
					return func(ctx context.Context) (*raster.Image, error) {
						return a.backgrounds.Fetch(ctx, opts.country)
					}
				}
				return func(ctx context.Context) (*raster.Image, error) {
					return loadImage(ctx, nhttp.NewHTTPClient(), opts.background)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "输入图片路径或 URL")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "输出 PNG 路径")
	cmd.Flags().StringVarP(&opts.country, "country", "c", "", "国家代码，如 fr")
	cmd.Flags().StringVarP(&opts.background, "background", "b", "", "背景图片路径或 URL")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runMatte(ctx context.Context, root *rootOptions, opts *matteOptions, fetcher func(*app) matte.FetchFunc) error {
	a, err := newApp(root.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("close model backend", "error", err)
		}
	}()

	img, err := loadImage(ctx, nhttp.NewHTTPClient(), opts.input)
	if err != nil {
		return fmt.Errorf("load %s: %w", opts.input, err)
	}

	var fetch matte.FetchFunc
	if fetcher != nil {
		fetch = fetcher(a)
	}
	res, err := a.pipeline.RunWithBackground(ctx, img, fetch)
	if err != nil {
		return err
	}

	out := outputPath(opts.input, opts.output)
	if err := util.SavePNG(out, res.Final()); err != nil {
		return err
	}
	slog.Info("done", "output", out, "size", fmt.Sprintf("%dx%d", res.Final().Width, res.Final().Height))
	return nil
}
