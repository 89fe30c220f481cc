// Package server runs the browser's long-lived services under one
// lifecycle: start together, stop in reverse order on a signal, a
// cancelled context or the first service that returns.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is a long-running component. Start blocks until the service is
// stopped or fails; Stop must make a blocked Start return.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls StartFn.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls StopFn if set.
func (f *FuncService) Stop() {
	if f.StopFn != nil {
		f.StopFn()
	}
}

// Closer is a resource released after every service has stopped.
type Closer interface {
	Close() error
}

// Lifecycle owns a set of named services and the resources they share.
type Lifecycle struct {
	logger   *zap.Logger
	signals  []os.Signal
	mu       sync.Mutex
	services []namedService
	closers  []namedCloser
}

type namedService struct {
	name    string
	service Service
}

type namedCloser struct {
	name   string
	closer Closer
}

// NewLifecycle creates a Lifecycle that shuts down on SIGINT or SIGTERM.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger:  logger,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Add registers a service. Services start in registration order.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// AddCloser registers a resource closed after all services stopped, in
// reverse registration order.
func (l *Lifecycle) AddCloser(name string, c Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, namedCloser{name: name, closer: c})
}

// Run starts every service and blocks until a signal arrives, ctx is
// cancelled or any service's Start returns. It then stops the services in
// reverse order and closes the registered resources.
//
// Postcondition: All services are stopped and all closers closed when Run
// returns. The error combines service failures and close failures.
func (l *Lifecycle) Run(ctx context.Context) error {
	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	closers := append([]namedCloser(nil), l.closers...)
	l.mu.Unlock()

	start := time.Now()
	ctx, stopSignals := signal.NotifyContext(ctx, l.signals...)
	defer stopSignals()

	g, gctx := errgroup.WithContext(ctx)
	exited := make(chan string, len(services))
	for _, ns := range services {
		g.Go(func() error {
			l.logger.Debug("starting service", zap.String("service", ns.name))
			err := ns.service.Start()
			exited <- ns.name
			if err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(start)),
				)
				return fmt.Errorf("service %s: %w", ns.name, err)
			}
			return nil
		})
	}
	l.logger.Debug("all services started", zap.Int("count", len(services)))

	select {
	case <-gctx.Done():
		if ctx.Err() != nil {
			l.logger.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)))
		}
	case name := <-exited:
		l.logger.Debug("service returned, shutting down", zap.String("service", name))
	}

	l.shutdown(services)
	err := g.Wait()
	for i := len(closers) - 1; i >= 0; i-- {
		if cerr := closers[i].closer.Close(); cerr != nil {
			l.logger.Warn("close failed", zap.String("resource", closers[i].name), zap.Error(cerr))
			err = multierr.Append(err, fmt.Errorf("closing %s: %w", closers[i].name, cerr))
		}
	}

	l.logger.Debug("shutdown complete", zap.Duration("uptime", time.Since(start)))
	return err
}

func (l *Lifecycle) shutdown(services []namedService) {
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		t := time.Now()
		ns.service.Stop()
		l.logger.Debug("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(t)),
		)
	}
}
