package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrMissing is returned for a required variable that is unset.
var ErrMissing = errors.New("missing required env var")

// ScannerConfig holds the kiosk settings.
type ScannerConfig struct {
	Env             string
	Addr            string // local address of the kiosk view
	APIBaseURL      string // REST backend
	CameraBridgeURL string // local camera bridge
	CameraID        string // optional, skips default selection

	OperatorEmail    string
	OperatorPassword string
	AccessToken      string
	RefreshToken     string

	FrameInterval    time.Duration
	MaxFrameFailures int
	ResumeDelay      time.Duration
	VerifyTimeout    time.Duration
	HTTPTimeout      time.Duration
}

// LoadScanner reads the kiosk configuration.  Unlike Load it reports
// missing variables as errors so the kiosk can show them.
func LoadScanner() (ScannerConfig, error) {
	cfg := ScannerConfig{
		Env:              envStr("APP_ENV", "dev"),
		Addr:             envStr("SCANNER_ADDR", ":8090"),
		APIBaseURL:       os.Getenv("API_BASE_URL"),
		CameraBridgeURL:  os.Getenv("CAMERA_BRIDGE_URL"),
		CameraID:         os.Getenv("CAMERA_ID"),
		OperatorEmail:    os.Getenv("OPERATOR_EMAIL"),
		OperatorPassword: os.Getenv("OPERATOR_PASSWORD"),
		AccessToken:      os.Getenv("OPERATOR_ACCESS_TOKEN"),
		RefreshToken:     os.Getenv("OPERATOR_REFRESH_TOKEN"),
		FrameInterval:    envDur("SCAN_FRAME_INTERVAL", 200*time.Millisecond),
		MaxFrameFailures: envInt("SCAN_MAX_FRAME_FAILURES", 10),
		ResumeDelay:      envDur("SCAN_RESUME_DELAY", 3*time.Second),
		VerifyTimeout:    envDur("VERIFY_TIMEOUT", 15*time.Second),
		HTTPTimeout:      envDur("HTTP_TIMEOUT", 10*time.Second),
	}
	if cfg.APIBaseURL == "" {
		return cfg, fmt.Errorf("%w: API_BASE_URL", ErrMissing)
	}
	if cfg.CameraBridgeURL == "" {
		return cfg, fmt.Errorf("%w: CAMERA_BRIDGE_URL", ErrMissing)
	}
	return cfg, nil
}

// HasCredentials reports whether the kiosk can sign in on its own.
func (c ScannerConfig) HasCredentials() bool {
	return c.OperatorEmail != "" && c.OperatorPassword != ""
}
