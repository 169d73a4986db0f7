package device

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridge(t *testing.T, claims, releases *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cameras", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"cameras":[{"id":"c1","label":"Front"},{"id":"c2","label":"Back"}]}}`))
	})
	mux.HandleFunc("/cameras/c2/session", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			atomic.AddInt32(claims, 1)
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			atomic.AddInt32(releases, 1)
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/cameras/c2/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, image.NewGray(image.Rect(0, 0, 4, 4)))
	})
	mux.HandleFunc("/cameras/locked/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusLocked)
	})
	mux.HandleFunc("/cameras/default/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSourceDevices(t *testing.T) {
	var claims, releases int32
	src := NewHTTPSource(newBridge(t, &claims, &releases).URL, nil)

	devs, err := src.Devices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []CameraDevice{{ID: "c1", Label: "Front"}, {ID: "c2", Label: "Back"}}, devs)
}

func TestHTTPSourceStreamLifecycle(t *testing.T) {
	var claims, releases int32
	src := NewHTTPSource(newBridge(t, &claims, &releases).URL, nil)

	st, err := src.Open(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&claims))

	img, err := st.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&releases), "close is idempotent")

	_, err = st.Frame(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestHTTPSourceMapsStatusCodes(t *testing.T) {
	var claims, releases int32
	src := NewHTTPSource(newBridge(t, &claims, &releases).URL, nil)

	_, err := src.Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = src.Open(context.Background(), "locked")
	assert.ErrorIs(t, err, ErrCameraBusy)

	_, err = src.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCameraNotFound)
}
