// Package session 管理每个上传槽位的抠图流程，新的上传覆盖旧的（后上传者胜出）
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/chaos-io/flagmatte/compose"
	"github.com/chaos-io/flagmatte/matte"
	"github.com/chaos-io/flagmatte/raster"
)

// Matter 抠图流程，*matte.Pipeline 实现了它
type Matter interface {
	Matte(ctx context.Context, img *raster.Image) (*matte.Result, error)
}

// Backgrounds 背景来源，*background.Source 实现了它
type Backgrounds interface {
	Fetch(ctx context.Context, code string) (*raster.Image, error)
}

type Session struct {
	ID      string
	created time.Time

	mu       sync.Mutex
	updated  time.Time
	gen      uint64
	bgSeq    uint64
	state    State
	filename string
	country  string
	err      error

	original  *raster.Image
	matted    *raster.Image
	composite *raster.Image

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Session) viewLocked() View {
	v := View{
		ID:         s.ID,
		State:      s.state,
		Generation: s.gen,
		Filename:   s.filename,
		Country:    s.country,
		Updated:    s.updated,
	}
	if s.original != nil {
		v.Width, v.Height = s.original.Width, s.original.Height
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

type Manager struct {
	matter      Matter
	backgrounds Backgrounds
	opts        compose.Options
	now         func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(matter Matter, backgrounds Backgrounds, opts compose.Options) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		matter:      matter,
		backgrounds: backgrounds,
		opts:        opts,
		now:         time.Now,
		baseCtx:     ctx,
		stop:        stop,
		sessions:    make(map[string]*Session),
	}
}

func (m *Manager) Create() View {
	now := m.now()
	s := &Session{
		ID:      ksuid.New().String(),
		created: now,
		updated: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	slog.Debug("session created", "session", s.ID)
	return s.View()
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *Manager) Snapshot(id string) (View, error) {
	s, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	return s.View(), nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return nil
}

// Upload 同步解码；解码失败时原有产物保持不变。
// 解码成功后丢弃旧产物、取消进行中的流程，并异步开始抠图
func (m *Manager) Upload(ctx context.Context, id, filename string, data []byte) (View, error) {
	s, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	if err := ctx.Err(); err != nil {
		return View{}, err
	}

	img, format, err := raster.DecodeBytes(data)
	if err != nil {
		return View{}, err
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.state = Uploaded
	s.filename = filename
	s.country = ""
	s.err = nil
	s.original = img
	s.matted = nil
	s.composite = nil
	s.cancel = cancel
	s.done = done
	s.updated = m.now()
	view := s.viewLocked()
	s.mu.Unlock()

	slog.InfoContext(ctx, "image uploaded", "session", id, "generation", gen, "format", format,
		"size", fmt.Sprintf("%dx%d", img.Width, img.Height))

	m.wg.Add(1)
	go m.runMatte(runCtx, cancel, done, s, gen, img)
	return view, nil
}

func (m *Manager) runMatte(ctx context.Context, cancel context.CancelFunc, done chan struct{}, s *Session, gen uint64, img *raster.Image) {
	defer m.wg.Done()
	defer cancel()

	s.mu.Lock()
	if s.gen == gen {
		s.state = Matting
	}
	s.mu.Unlock()

	res, err := m.matter.Matte(ctx, img)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(done)

	if s.gen != gen {
		slog.Debug("discard superseded result", "session", s.ID, "generation", gen, "latest", s.gen)
		return
	}

	s.updated = m.now()
	if err != nil {
		slog.Warn("matting failed", "session", s.ID, "generation", gen, "error", err)
		s.state = Idle
		s.err = err
		return
	}
	s.matted = res.Matted
	s.state = Matted
	slog.Info("matting done", "session", s.ID, "generation", gen)
}

// Wait 等待最新一次流程结束
func (m *Manager) Wait(ctx context.Context, id string) (View, error) {
	s, err := m.get(id)
	if err != nil {
		return View{}, err
	}

	for {
		s.mu.Lock()
		done := s.done
		if done == nil || s.state.Done() {
			v := s.viewLocked()
			s.mu.Unlock()
			return v, nil
		}
		s.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return s.View(), ctx.Err()
		}
	}
}

// SelectBackground 只能在抠图完成后调用
func (m *Manager) SelectBackground(ctx context.Context, id, country string) (View, error) {
	s, err := m.get(id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	if s.state != Matted && s.state != Composited {
		state := s.state
		s.mu.Unlock()
		return View{}, fmt.Errorf("%w: select background while %s", ErrState, state)
	}
	s.bgSeq++
	gen, seq, matted := s.gen, s.bgSeq, s.matted
	s.mu.Unlock()

	bg, err := m.backgrounds.Fetch(ctx, country)
	if err != nil {
		return View{}, err
	}
	composite, err := m.opts.Composite(matted, bg)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return View{}, fmt.Errorf("%w: superseded by generation %d", ErrState, s.gen)
	}
	// 后选择的背景胜出
	if s.bgSeq != seq {
		slog.Debug("discard superseded background", "session", id, "country", country)
		return View{}, fmt.Errorf("%w: background %s superseded by a later selection", ErrState, country)
	}
	s.composite = composite
	s.country = country
	s.state = Composited
	s.updated = m.now()

	slog.Info("background composited", "session", id, "generation", gen, "country", country)
	return s.viewLocked(), nil
}

// Download 有合成图时导出合成图，否则导出抠图结果
func (m *Manager) Download(id string) ([]byte, string, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	img := s.composite
	if img == nil {
		img = s.matted
	}
	state, filename := s.state, s.filename
	s.updated = m.now()
	s.mu.Unlock()

	if img == nil {
		return nil, "", fmt.Errorf("%w: nothing to download while %s", ErrState, state)
	}
	data, err := raster.EncodePNG(img)
	if err != nil {
		return nil, "", err
	}
	return data, raster.OutputName(filename), nil
}

// Sweep 删除超过 maxAge 未活动的会话
func (m *Manager) Sweep(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.updated.Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
	}
	if len(stale) > 0 {
		slog.Info("swept idle sessions", "count", len(stale))
	}
	return len(stale)
}

// Close 取消所有进行中的流程并等待退出
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
}
