// Package background 按国家代码获取国旗背景图
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaos-io/flagmatte/raster"
	"github.com/chaos-io/flagmatte/util"
	nhttp "github.com/chaos-io/flagmatte/util/http"
)

var (
	ErrFetch       = errors.New("fetch background")
	ErrInvalidCode = errors.New("invalid country code")
)

const DefaultURLTemplate = "https://flagcdn.com/w1280/%s.png"

type Config struct {
	// URLTemplate 含一个 %s，替换为小写国家代码
	URLTemplate string        `yaml:"url_template"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

func DefaultConfig() Config {
	return Config{
		URLTemplate: DefaultURLTemplate,
		CacheTTL:    24 * time.Hour,
	}
}

type entry struct {
	img     *raster.Image
	fetched time.Time
}

// Source 背景图来源，带内存缓存
type Source struct {
	cfg Config
	cli nhttp.IClient
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]entry
}

func NewSource(cfg Config, cli nhttp.IClient) *Source {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	return &Source{
		cfg:   cfg,
		cli:   cli,
		now:   time.Now,
		cache: make(map[string]entry),
	}
}

// NormalizeCode 两个 ASCII 字母，转为小写
func NormalizeCode(code string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	if len(c) != 2 || c[0] < 'a' || c[0] > 'z' || c[1] < 'a' || c[1] > 'z' {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return c, nil
}

func (s *Source) Resolve(code string) (string, error) {
	c, err := NormalizeCode(code)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(s.cfg.URLTemplate, c), nil
}

// Fetch 目标不可达、非 2xx 或无法解码都返回 ErrFetch
func (s *Source) Fetch(ctx context.Context, code string) (*raster.Image, error) {
	c, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	if img, ok := s.cached(c); ok {
		return img, nil
	}

	url := fmt.Sprintf(s.cfg.URLTemplate, c)
	img, err := util.DownloadImage(ctx, s.cli, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
	}
	slog.Debug("fetched background", "country", c, "url", url, "size", fmt.Sprintf("%dx%d", img.Width, img.Height))

	s.mu.Lock()
	s.cache[c] = entry{img: img, fetched: s.now()}
	s.mu.Unlock()
	return img, nil
}

func (s *Source) cached(code string) (*raster.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.cache[code]
	if !ok || s.expired(e) {
		return nil, false
	}
	return e.img, true
}

func (s *Source) expired(e entry) bool {
	return s.cfg.CacheTTL > 0 && s.now().Sub(e.fetched) > s.cfg.CacheTTL
}

// Purge 清理过期缓存，返回清理数量
func (s *Source) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for code, e := range s.cache {
		if s.expired(e) {
			delete(s.cache, code)
			n++
		}
	}
	return n
}

func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
