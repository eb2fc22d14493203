package background

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flagPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "fr", want: "fr"},
		{in: " JP ", want: "jp"},
		{in: "usa", wantErr: true},
		{in: "1a", wantErr: true},
		{in: "", wantErr: true},
		{in: "../", wantErr: true},
	}

	for _, tt := range tests {
		got, err := NormalizeCode(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidCode, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestSource_Resolve(t *testing.T) {
	t.Parallel()

	s := NewSource(Config{}, nil)
	got, err := s.Resolve("DE")
	require.NoError(t, err)
	assert.Equal(t, "https://flagcdn.com/w1280/de.png", got)
}

func TestSource_FetchAndCache(t *testing.T) {
	t.Parallel()

	data := flagPNG(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/flags/fr.png", r.URL.Path)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	s := NewSource(Config{URLTemplate: srv.URL + "/flags/%s.png", CacheTTL: time.Hour}, nil)
	now := time.Now()
	s.now = func() time.Time { return now }

	img, err := s.Fetch(context.Background(), "FR")
	require.NoError(t, err)
	assert.Equal(t, 6, img.Width)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, img.At(2, 2))

	_, err = s.Fetch(context.Background(), "fr")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 0, s.Purge())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, s.Purge())
	assert.Equal(t, 0, s.Len())
}

func TestSource_FetchErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xx.png":
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("<html>not a flag</html>"))
		}
	}))
	defer srv.Close()

	s := NewSource(Config{URLTemplate: srv.URL + "/%s.png"}, nil)

	_, err := s.Fetch(context.Background(), "xx")
	assert.ErrorIs(t, err, ErrFetch)

	_, err = s.Fetch(context.Background(), "yy")
	assert.ErrorIs(t, err, ErrFetch)

	_, err = s.Fetch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidCode)

	unreachable := NewSource(Config{URLTemplate: "http://127.0.0.1:1/%s.png"}, nil)
	_, err = unreachable.Fetch(context.Background(), "fr")
	assert.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, 0, unreachable.Len())
}
