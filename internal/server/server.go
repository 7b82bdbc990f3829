// Package server hosts the HTTP front end and owns the lifecycle of its
// infrastructure connections.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Resource is a connection the API depends on. Resources are closed after
// the HTTP server has drained, in reverse registration order.
type Resource struct {
	Name   string
	Closer io.Closer
}

// Runtime is the API process: the HTTP server plus the connections its
// handlers use.
type Runtime struct {
	server          *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger

	listener  net.Listener
	resources []Resource
}

// NewRuntime wraps server; shutdownTimeout bounds the drain of in-flight requests.
func NewRuntime(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) *Runtime {
	return &Runtime{server: server, shutdownTimeout: shutdownTimeout, logger: logger}
}

// Listen makes Run serve on an already bound listener instead of server.Addr.
func (r *Runtime) Listen(listener net.Listener) *Runtime {
	r.listener = listener
	return r
}

// Own registers a resource to close once the server has stopped.
func (r *Runtime) Own(name string, closer io.Closer) *Runtime {
	if closer != nil {
		r.resources = append(r.resources, Resource{Name: name, Closer: closer})
	}
	return r
}

// Run serves until ctx is cancelled or the server fails. On cancellation it
// stops accepting connections, waits up to the shutdown timeout for running
// submissions, then closes the owned resources. Resources are closed on
// every exit path.
func (r *Runtime) Run(ctx context.Context) (err error) {
	defer func() {
		err = errors.Join(err, r.Close())
	}()

	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if r.listener != nil {
			serveErr = r.server.Serve(r.listener)
		} else {
			serveErr = r.server.ListenAndServe()
		}
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
		errCh <- serveErr
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	r.logger.Info("draining API", zap.Duration("timeout", r.shutdownTimeout), zap.NamedError("cause", context.Cause(ctx)))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.shutdownTimeout)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("drain API: %w", err)
	}
	return <-errCh
}

// Close releases the owned resources without serving. Run calls it on exit;
// callers use it directly when startup fails before Run.
func (r *Runtime) Close() error {
	resources := r.resources
	r.resources = nil

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		res := resources[i]
		if err := res.Closer.Close(); err != nil {
			r.logger.Warn("failed to close resource", zap.String("resource", res.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", res.Name, err))
			continue
		}
		r.logger.Info("resource closed", zap.String("resource", res.Name))
	}
	return errors.Join(errs...)
}
