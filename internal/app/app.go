package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"macrotool/internal/config"
	apperrors "macrotool/internal/errors"
	"macrotool/internal/infrastructure"
	"macrotool/internal/license"
	"macrotool/internal/security"
	handlers "macrotool/internal/transport/http"
)

// ErrUnlicensed is returned by Run when the startup license check failed and
// unlicensed serving was not requested
var ErrUnlicensed = errors.New("refusing to start without a valid license")

// ErrConfig wraps configuration load and validation failures
var ErrConfig = errors.New("invalid configuration")

// Options configures NewApplication
type Options struct {
	// ConfigFile is an explicit YAML file; empty uses the standard search
	ConfigFile string
	// Console receives console log output, os.Stderr when nil
	Console io.Writer
	// TraceOutput receives exported spans when tracing is enabled
	TraceOutput io.Writer
	// Machine replaces the configured machine identifier provider
	Machine license.MachineIdentifier
	// Now replaces the wall clock
	Now func() time.Time
}

// Application wires the license gate and the local status API
type Application struct {
	Config        *config.Config
	Logger        *infrastructure.Logger
	OTelProviders *infrastructure.OTelProviders
	Machine       license.MachineIdentifier
	Validator     *license.Validator
	HealthCheck   *license.HealthCheck
	Entitlement   *license.Entitlement
	ErrorHandler  *apperrors.ErrorHandler
	Router        *chi.Mux
	Server        *http.Server

	now       func() time.Time
	ready     chan struct{}
	readyOnce sync.Once
	addr      net.Addr
}

// NewApplication loads configuration, builds every component and performs
// the one startup license check. A rejected license is not an error here;
// it is recorded in Entitlement.
func NewApplication(ctx context.Context, opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	logger, err := infrastructure.NewLogger(cfg.Logging, console)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &Application{
		Config: cfg,
		Logger: logger,
		now:    opts.Now,
		ready:  make(chan struct{}),
	}
	if a.now == nil {
		a.now = time.Now
	}

	if err := a.initialize(ctx, opts); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *Application) initialize(ctx context.Context, opts Options) error {
	cfg := a.Config
	logger := a.Logger.Logger

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion))
	cfg.LogPathResolution(logger)

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, config.AppVersion, opts.TraceOutput, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	keys, err := cfg.License.KeySet()
	if err != nil {
		return fmt.Errorf("failed to load license keys: %w", err)
	}

	a.Machine = opts.Machine
	if a.Machine == nil {
		provider, err := security.NewMachineIDProvider(cfg.License.MachineIDSource, cfg.License.MachineID, logger)
		if err != nil {
			return fmt.Errorf("failed to create machine id provider: %w", err)
		}
		a.Machine = provider
	}

	metrics, err := license.NewMetrics(otel.Meter(license.MeterName))
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	a.Validator, err = license.NewValidator(keys, a.Machine,
		license.WithMaxTokenAge(cfg.License.MaxTokenAge),
		license.WithClock(a.now),
		license.WithLogger(logger),
		license.WithMetrics(metrics),
		license.WithTracer(otel.Tracer(license.TracerName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create license validator: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(infrastructure.EnsureTraceID(ctx), config.LicenseCheckTimeout)
	a.Entitlement = a.Validator.Check(checkCtx, cfg.License.File)
	cancel()

	a.HealthCheck = license.NewHealthCheck(a.Validator, a.Entitlement, license.HealthCheckConfig{
		Timeout:           config.LicenseCheckTimeout,
		ExpiryWarningDays: cfg.License.ExpiryWarningDays,
	})

	a.ErrorHandler = apperrors.NewErrorHandler(logger, cfg.Logging.Development)
	a.Router, err = handlers.NewRouter(handlers.RouterDeps{
		Entitlement:    a.Entitlement,
		Health:         a.HealthCheck,
		ErrorHandler:   a.ErrorHandler,
		Logger:         infrastructure.WithComponent(logger, "http"),
		Tracer:         providers.Tracer,
		Meter:          providers.Meter,
		Metrics:        providers.PrometheusHTTP,
		RateLimit:      cfg.RateLimit,
		RequestTimeout: cfg.Server.WriteTimeout,
		Now:            a.now,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	a.Server = &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        a.Router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	return nil
}

// Run serves the status API until ctx is cancelled or SIGINT/SIGTERM
// arrives. It refuses to start when the license was rejected, unless
// allowUnlicensed is set, in which case automation routes stay gated.
func (a *Application) Run(ctx context.Context, allowUnlicensed bool) error {
	defer a.markReady()

	if !a.Entitlement.Allowed() && !allowUnlicensed {
		return fmt.Errorf("%w: %w", ErrUnlicensed, a.Entitlement.Err())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := a.Logger.Logger
	if !a.Config.Server.Enabled {
		logger.InfoContext(ctx, "Status server disabled, waiting for shutdown")
		a.markReady()
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", a.Config.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Config.Server.Addr, err)
	}
	a.addr = ln.Addr()
	a.markReady()

	logger.InfoContext(ctx, "Status server listening",
		slog.String("addr", a.addr.String()),
		slog.Bool("licensed", a.Entitlement.Allowed()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down status server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *Application) markReady() {
	a.readyOnce.Do(func() { close(a.ready) })
}

// Ready is closed once Run is serving, or once Run has returned without
// serving. Addr is nil in the latter case.
func (a *Application) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound listener address, nil when Run failed before
// listening. Only valid after Ready.
func (a *Application) Addr() net.Addr {
	return a.addr
}

// Close flushes telemetry and closes the log file
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
