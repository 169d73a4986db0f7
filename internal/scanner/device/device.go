// Package device acquires camera access for the scanner and enumerates the
// cameras exposed by the camera bridge. A Probe never keeps a stream open: the
// only long-lived stream is the one owned by the decode engine.
package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrPermissionDenied is returned when the bridge refuses camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoCamera is returned when access was granted but no camera is listed.
	ErrNoCamera = errors.New("no camera found")
	// ErrCameraBusy is returned when the device is held by another process.
	ErrCameraBusy = errors.New("camera busy")
	// ErrCameraNotFound is returned when a camera id is unknown to the bridge.
	ErrCameraNotFound = errors.New("camera not found")
	// ErrStreamClosed is returned by Frame after Close.
	ErrStreamClosed = errors.New("camera stream closed")
	// ErrCameraLost marks a stream that keeps failing to deliver frames, for
	// example when the bridge is unreachable.
	ErrCameraLost = errors.New("camera stopped delivering frames")
)

// CameraDevice is one enumerated camera. Values are immutable.
type CameraDevice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Stream is an open camera handle. Close is idempotent.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// Source enumerates cameras and opens streams. Open with an empty id opens the
// default device.
type Source interface {
	Devices(ctx context.Context) ([]CameraDevice, error)
	Open(ctx context.Context, cameraID string) (Stream, error)
}

// IsFatal reports whether err is a permission or device error that ends the
// scanning session until the operator intervenes.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNoCamera) ||
		errors.Is(err, ErrCameraBusy) ||
		errors.Is(err, ErrCameraNotFound) ||
		errors.Is(err, ErrStreamClosed) ||
		errors.Is(err, ErrCameraLost)
}

// Probe checks camera permission and picks the camera to scan with.
type Probe struct {
	src Source
	log *zap.Logger
}

// NewProbe builds a Probe over src.
func NewProbe(src Source, log *zap.Logger) *Probe {
	if log == nil {
		log = zap.NewNop()
	}
	return &Probe{src: src, log: log.Named("scanner.device")}
}

// RequestAccess opens a throwaway stream to trigger the bridge's permission
// check and closes it before returning.
func (p *Probe) RequestAccess(ctx context.Context) error {
	s, err := p.src.Open(ctx, "")
	if err != nil {
		return fmt.Errorf("request camera access: %w", err)
	}
	if err := s.Close(); err != nil {
		p.log.Warn("closing permission probe stream failed", zap.Error(err))
	}
	return nil
}

// ListCameras enumerates cameras. An empty list is ErrNoCamera.
func (p *Probe) ListCameras(ctx context.Context) ([]CameraDevice, error) {
	devs, err := p.src.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	if len(devs) == 0 {
		return nil, ErrNoCamera
	}
	return devs, nil
}

// Acquire requests access, lists cameras and returns the default one.
func (p *Probe) Acquire(ctx context.Context) (CameraDevice, error) {
	if err := p.RequestAccess(ctx); err != nil {
		return CameraDevice{}, err
	}
	devs, err := p.ListCameras(ctx)
	if err != nil {
		return CameraDevice{}, err
	}
	cam, _ := SelectDefault(devs)
	p.log.Info("camera selected", zap.String("camera_id", cam.ID), zap.String("label", cam.Label), zap.Int("available", len(devs)))
	return cam, nil
}

// AcquireNamed is Acquire for a configured camera id. An id the bridge does
// not list is ErrCameraNotFound.
func (p *Probe) AcquireNamed(ctx context.Context, id string) (CameraDevice, error) {
	if err := p.RequestAccess(ctx); err != nil {
		return CameraDevice{}, err
	}
	devs, err := p.ListCameras(ctx)
	if err != nil {
		return CameraDevice{}, err
	}
	for _, d := range devs {
		if d.ID == id {
			p.log.Info("camera selected", zap.String("camera_id", d.ID), zap.String("label", d.Label))
			return d, nil
		}
	}
	return CameraDevice{}, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
}

// SelectDefault prefers a rear-facing camera, falling back to the first one.
func SelectDefault(devs []CameraDevice) (CameraDevice, bool) {
	if len(devs) == 0 {
		return CameraDevice{}, false
	}
	for _, d := range devs {
		l := strings.ToLower(d.Label)
		if strings.Contains(l, "back") || strings.Contains(l, "rear") {
			return d, true
		}
	}
	return devs[0], true
}
