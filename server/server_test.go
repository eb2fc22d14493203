package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/flagmatte/background"
	"github.com/chaos-io/flagmatte/config"
	"github.com/chaos-io/flagmatte/matte"
	"github.com/chaos-io/flagmatte/model"
	"github.com/chaos-io/flagmatte/raster"
	"github.com/chaos-io/flagmatte/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// opaqueBackend 输出全 1 掩码
type opaqueBackend struct {
	loadErr error
}

func (b *opaqueBackend) LoadModel(ctx context.Context, id string) (model.Model, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b, nil
}

func (b *opaqueBackend) LoadProcessor(ctx context.Context, id string) (model.Processor, error) {
	return model.NewImageProcessor(model.ProcessorConfig{
		Width: 4, Height: 4,
		Mean: [3]float32{0.5, 0.5, 0.5},
		Std:  [3]float32{0.5, 0.5, 0.5},
	})
}

func (b *opaqueBackend) Run(ctx context.Context, input *model.Tensor) ([]*model.Tensor, error) {
	data := make([]float32, 16)
	for i := range data {
		data[i] = 1
	}
	out, err := model.NewTensor([]int64{1, 1, 4, 4}, data)
	return []*model.Tensor{out}, err
}

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := raster.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	data, err := raster.EncodePNG(img)
	require.NoError(t, err)
	return data
}

func newTestServer(t *testing.T, backend model.Backend) *Server {
	t.Helper()

	flag := solidPNG(t, 4, 4, color.NRGBA{B: 255, A: 255})
	flags := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fr.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(flag)
	}))
	t.Cleanup(flags.Close)

	cfg := config.Default()
	cfg.Background.URLTemplate = flags.URL + "/%s.png"

	loader := matte.NewLoader(backend, cfg.Model.ID)
	pipeline := matte.NewPipeline(matte.NewExtractor(loader, raster.Bilinear), cfg.Compose)
	s := New(cfg, pipeline, background.NewSource(cfg.Background, nil))
	t.Cleanup(s.Sessions().Close)
	return s
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if data != nil {
		part, err := w.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &opaqueBackend{})
	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"model":"Xenova/modnet","state":"uninitialized"}`, rec.Body.String())
}

func TestServer_SessionFlow(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &opaqueBackend{})

	rec := do(s, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := decodeView(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	body, ct := multipartBody(t, "cat.photo.jpg", solidPNG(t, 6, 4, color.NRGBA{R: 255, A: 255}), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/image", body)
	req.Header.Set("Content-Type", ct)
	rec = do(s, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"?wait=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeView(t, rec)
	assert.Equal(t, "matted", view["state"])
	assert.Equal(t, float64(6), view["width"])

	req = httptest.NewRequest(http.MethodPut, "/api/sessions/"+id+"/background", bytes.NewBufferString(`{"country":"FR"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = do(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = decodeView(t, rec)
	assert.Equal(t, "composited", view["state"])
	assert.Equal(t, "fr", view["country"])

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="cat-bg-removed.png"`, rec.Header().Get("Content-Disposition"))
	img, format, err := raster.DecodeBytes(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, img.At(3, 2))

	rec = do(s, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SessionErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &opaqueBackend{})
	rec := do(s, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	id, _ := decodeView(t, rec)["id"].(string)

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name: "unknown session",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/sessions/nope/download", nil)
			},
			status: http.StatusNotFound,
		},
		{
			name: "download before matting",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/download", nil)
			},
			status: http.StatusConflict,
		},
		{
			name: "background before matting",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPut, "/api/sessions/"+id+"/background", bytes.NewBufferString(`{"country":"fr"}`))
				r.Header.Set("Content-Type", "application/json")
				return r
			},
			status: http.StatusConflict,
		},
		{
			name: "invalid country",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPut, "/api/sessions/"+id+"/background", bytes.NewBufferString(`{"country":"usa"}`))
				r.Header.Set("Content-Type", "application/json")
				return r
			},
			status: http.StatusBadRequest,
		},
		{
			name: "undecodable upload",
			req: func() *http.Request {
				body, ct := multipartBody(t, "x.png", []byte("not an image"), nil)
				r := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/image", body)
				r.Header.Set("Content-Type", ct)
				return r
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing image field",
			req: func() *http.Request {
				body, ct := multipartBody(t, "", nil, map[string]string{"other": "1"})
				r := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/image", body)
				r.Header.Set("Content-Type", ct)
				return r
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		rec := do(s, tt.req())
		assert.Equal(t, tt.status, rec.Code, tt.name)
	}

	v, err := s.Sessions().Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, session.Idle, v.State)
}

func TestServer_MatteOnce(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &opaqueBackend{})

	body, ct := multipartBody(t, "dog.png", solidPNG(t, 5, 5, color.NRGBA{G: 255, A: 255}), map[string]string{"country": "fr"})
	req := httptest.NewRequest(http.MethodPost, "/api/matte", body)
	req.Header.Set("Content-Type", ct)
	rec := do(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="dog-bg-removed.png"`, rec.Header().Get("Content-Disposition"))

	img, _, err := raster.DecodeBytes(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 5, img.Width)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, img.At(2, 2))

	body, ct = multipartBody(t, "dog.png", solidPNG(t, 5, 5, color.NRGBA{G: 255, A: 255}), map[string]string{"country": "zz"})
	req = httptest.NewRequest(http.MethodPost, "/api/matte", body)
	req.Header.Set("Content-Type", ct)
	rec = do(s, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_ModelUnavailable(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &opaqueBackend{loadErr: errors.New("no weights")})

	body, ct := multipartBody(t, "dog.png", solidPNG(t, 3, 3, color.NRGBA{A: 255}), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/matte", body)
	req.Header.Set("Content-Type", ct)
	rec := do(s, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no weights")

	rec = do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"failed"`)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("x: %w", raster.ErrDecode), want: http.StatusBadRequest},
		{err: raster.ErrDimensionMismatch, want: http.StatusUnprocessableEntity},
		{err: fmt.Errorf("extract: %w", matte.ErrModelUnavailable), want: http.StatusServiceUnavailable},
		{err: background.ErrFetch, want: http.StatusBadGateway},
		{err: raster.ErrEncode, want: http.StatusInternalServerError},
		{err: session.ErrNotFound, want: http.StatusNotFound},
		{err: session.ErrState, want: http.StatusConflict},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
