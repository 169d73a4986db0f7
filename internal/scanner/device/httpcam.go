package device

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg" // snapshot formats served by the bridge
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultCameraID is the bridge alias for its default device.
const DefaultCameraID = "default"

// cameraListResponse is the bridge's GET /cameras payload.
type cameraListResponse struct {
	Result struct {
		Cameras []CameraDevice `json:"cameras"`
	} `json:"result"`
}

// HTTPSource talks to a local camera bridge that exposes the kiosk cameras
// over HTTP:
//
//	GET    /cameras                  list devices
//	POST   /cameras/{id}/session     claim a device
//	GET    /cameras/{id}/snapshot    current frame (JPEG or PNG)
//	DELETE /cameras/{id}/session     release a device
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource builds a source for the bridge at baseURL.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSource{base: strings.TrimRight(baseURL, "/"), client: client}
}

// Devices lists the cameras known to the bridge.
func (s *HTTPSource) Devices(ctx context.Context) ([]CameraDevice, error) {
	resp, err := s.do(ctx, http.MethodGet, "/cameras")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	var out cameraListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode camera list: %w", err)
	}
	return out.Result.Cameras, nil
}

// Open claims the camera and returns a stream bound to it.
func (s *HTTPSource) Open(ctx context.Context, cameraID string) (Stream, error) {
	if cameraID == "" {
		cameraID = DefaultCameraID
	}
	resp, err := s.do(ctx, http.MethodPost, sessionPath(cameraID))
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	return &httpStream{src: s, id: cameraID}, nil
}

func (s *HTTPSource) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera bridge %s %s: %w", method, path, err)
	}
	return resp, nil
}

func sessionPath(id string) string  { return "/cameras/" + url.PathEscape(id) + "/session" }
func snapshotPath(id string) string { return "/cameras/" + url.PathEscape(id) + "/snapshot" }

// statusErr maps bridge status codes to device errors.
func statusErr(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrPermissionDenied
	case resp.StatusCode == http.StatusNotFound:
		return ErrCameraNotFound
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusLocked:
		return ErrCameraBusy
	default:
		return fmt.Errorf("camera bridge: unexpected status %d", resp.StatusCode)
	}
}

type httpStream struct {
	src *HTTPSource
	id  string

	mu     sync.Mutex
	closed bool
}

func (st *httpStream) Frame(ctx context.Context) (image.Image, error) {
	st.mu.Lock()
	closed := st.closed
	st.mu.Unlock()
	if closed {
		return nil, ErrStreamClosed
	}
	resp, err := st.src.do(ctx, http.MethodGet, snapshotPath(st.id))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return img, nil
}

func (st *httpStream) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.mu.Unlock()

	// Release must succeed even when the caller's context is already gone.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := st.src.do(ctx, http.MethodDelete, sessionPath(st.id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return statusErr(resp)
}
