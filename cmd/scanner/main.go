// Command scanner runs the on-site ticket scanner kiosk: it drives the
// camera bridge, decodes QR codes and verifies them against the REST
// backend for the selected showtime.
package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/config"
	"github.com/iliyamo/cinema-ticket-scanner/internal/logger"
	"github.com/iliyamo/cinema-ticket-scanner/internal/middleware"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/backend"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/decode"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/device"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/identity"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/session"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/showtime"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/verify"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/view"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine

	cfg, err := config.LoadScanner()
	if err != nil {
		stdlog.Fatal(err)
	}
	log, err := logger.New(cfg.Env, os.Getenv("LOG_LEVEL"))
	if err != nil {
		stdlog.Fatal(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// API calls carry their own deadlines.
	store := identity.NewStore()
	api := backend.New(cfg.APIBaseURL, &http.Client{}, store)

	src := device.NewHTTPSource(cfg.CameraBridgeURL, &http.Client{Timeout: cfg.HTTPTimeout})
	eng := decode.NewEngine(src, decode.NewQRDecoder(), nil, decode.Config{FrameInterval: cfg.FrameInterval}, log)
	ver := verify.NewClient(api, cfg.VerifyTimeout, log)
	signer := identity.Signer{Store: store, Auth: api}
	ctrl := session.NewController(eng, ver, store, session.Config{ResumeDelay: cfg.ResumeDelay, Renewer: signer}, log)
	eng.SetHandler(ctrl)
	gate := showtime.NewGate(api, store, ctrl, log)

	if err := signIn(ctx, cfg, store, api, log); err != nil {
		log.Warn("operator not signed in, waiting for login on the kiosk", zap.Error(err))
		_ = ctrl.Post(ctx, session.SessionExpired{})
	}
	acquireCamera(ctx, cfg, device.NewProbe(src, log), ctrl, log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log))
	view.Register(e, view.NewHandler(gate, ctrl, signer, log))

	go func() {
		log.Info("scanner view listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("scanner view stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down scanner")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("view shutdown", zap.Error(err))
	}
	// releases the camera before the process exits
	_ = ctrl.Close()
}

// signIn uses configured credentials, or a configured token pair that is
// renewed once when the access token has expired.
func signIn(ctx context.Context, cfg config.ScannerConfig, store *identity.Store, api *backend.Client, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	defer cancel()

	var (
		op  identity.Operator
		err error
	)
	switch {
	case cfg.HasCredentials():
		op, err = store.Login(ctx, api, cfg.OperatorEmail, cfg.OperatorPassword)
	case cfg.AccessToken != "":
		op, err = store.Set(cfg.AccessToken, cfg.RefreshToken)
		if err == nil && !op.ExpiresAt.IsZero() && time.Now().After(op.ExpiresAt) {
			op, err = store.Renew(ctx, api)
		}
	case cfg.RefreshToken != "":
		op, err = renew(ctx, store, api, cfg.RefreshToken)
	default:
		return identity.ErrSignedOut
	}
	if err != nil {
		return err
	}
	log.Info("operator signed in", zap.String("user_id", op.UserID), zap.String("cinema_id", op.CinemaID), zap.String("role", op.Role))
	return nil
}

func renew(ctx context.Context, store *identity.Store, api *backend.Client, refresh string) (identity.Operator, error) {
	resp, err := api.Refresh(ctx, refresh)
	if err != nil {
		return identity.Operator{}, err
	}
	return store.Set(resp.Access.Token, resp.Refresh.Token)
}

// acquireCamera probes the bridge and reports the result to the session. A
// denied or missing camera leaves a persistent notice on the view.
func acquireCamera(ctx context.Context, cfg config.ScannerConfig, probe *device.Probe, ctrl *session.Controller, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	defer cancel()

	var (
		cam device.CameraDevice
		err error
	)
	if cfg.CameraID != "" {
		cam, err = probe.AcquireNamed(ctx, cfg.CameraID)
	} else {
		cam, err = probe.Acquire(ctx)
	}
	if err != nil {
		log.Error("camera unavailable", zap.Error(err))
		_ = ctrl.Post(ctx, session.CameraRevoked{Reason: session.DeviceNotice(err)})
		return
	}
	_ = ctrl.Post(ctx, session.CameraReady{CameraID: cam.ID})
}
