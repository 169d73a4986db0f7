package device

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	src    *fakeSource
	closed bool
}

func (s *fakeStream) Frame(ctx context.Context) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

func (s *fakeStream) Close() error {
	if !s.closed {
		s.closed = true
		s.src.open--
	}
	return nil
}

type fakeSource struct {
	devs    []CameraDevice
	openErr error
	listErr error
	open    int
	opened  []string
}

func (f *fakeSource) Devices(ctx context.Context) ([]CameraDevice, error) {
	return f.devs, f.listErr
}

func (f *fakeSource) Open(ctx context.Context, id string) (Stream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.open++
	f.opened = append(f.opened, id)
	return &fakeStream{src: f}, nil
}

func TestSelectDefaultPrefersRearCamera(t *testing.T) {
	devs := []CameraDevice{
		{ID: "1", Label: "Integrated Webcam"},
		{ID: "2", Label: "USB Camera (Back)"},
		{ID: "3", Label: "Rear lens"},
	}
	got, ok := SelectDefault(devs)
	require.True(t, ok)
	assert.Equal(t, "2", got.ID)

	got, ok = SelectDefault([]CameraDevice{{ID: "a", Label: "front"}, {ID: "b", Label: "REAR wide"}})
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)
}

func TestSelectDefaultFallsBackToFirst(t *testing.T) {
	got, ok := SelectDefault([]CameraDevice{{ID: "x", Label: "Front"}, {ID: "y", Label: "Side"}})
	require.True(t, ok)
	assert.Equal(t, "x", got.ID)

	_, ok = SelectDefault(nil)
	assert.False(t, ok)
}

func TestRequestAccessClosesProbeStream(t *testing.T) {
	src := &fakeSource{devs: []CameraDevice{{ID: "1", Label: "cam"}}}
	p := NewProbe(src, nil)

	require.NoError(t, p.RequestAccess(context.Background()))
	assert.Equal(t, 0, src.open, "probe stream must not stay open")
	assert.Equal(t, []string{""}, src.opened)
}

func TestRequestAccessDenied(t *testing.T) {
	p := NewProbe(&fakeSource{openErr: ErrPermissionDenied}, nil)

	err := p.RequestAccess(context.Background())
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.True(t, IsFatal(err))
}

func TestListCamerasEmptyIsNoCamera(t *testing.T) {
	p := NewProbe(&fakeSource{}, nil)

	_, err := p.ListCameras(context.Background())
	assert.ErrorIs(t, err, ErrNoCamera)
}

func TestAcquireReturnsDefaultCamera(t *testing.T) {
	src := &fakeSource{devs: []CameraDevice{{ID: "front", Label: "Front"}, {ID: "back", Label: "Back camera"}}}
	p := NewProbe(src, nil)

	cam, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "back", cam.ID)
	assert.Equal(t, 0, src.open)
}

func TestAcquireNamed(t *testing.T) {
	src := &fakeSource{devs: []CameraDevice{{ID: "front", Label: "Front"}, {ID: "usb-1", Label: "USB"}}}
	p := NewProbe(src, nil)

	cam, err := p.AcquireNamed(context.Background(), "usb-1")
	require.NoError(t, err)
	assert.Equal(t, "USB", cam.Label)

	_, err = p.AcquireNamed(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCameraNotFound)
	assert.Equal(t, 0, src.open)
}
