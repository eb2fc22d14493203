package util

import (
	"context"
	"fmt"
	"os"

	"github.com/chaos-io/flagmatte/raster"
	nhttp "github.com/chaos-io/flagmatte/util/http"
)

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, cli nhttp.IClient, url string) (*raster.Image, error) {
	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     "GET",
		Response:   &data,
	})
	if err != nil {
		return nil, err
	}

	img, _, err := raster.DecodeBytes(data)
	return img, err
}

// OpenImage 打开本地图片
func OpenImage(path string) (*raster.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := raster.Decode(file)
	return img, err
}

// SavePNG 保存为 PNG
func SavePNG(path string, img *raster.Image) error {
	data, err := raster.EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
