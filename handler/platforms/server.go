package platforms

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// Serve runs srv on ln until ctx is done, then drains in-flight requests
// for at most shutdownTimeout. It returns nil after a clean shutdown.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger types.Logger, metrics types.Metrics) error {
	startTime := time.Now()
	errCh := make(chan error, 1)

	go func() {
		logger.Info(ctx, "HTTP server listening", types.Fields{
			"addr": ln.Addr().String(),
		})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	return GracefulShutdown(srv, shutdownTimeout, logger, metrics, startTime)
}

// GracefulShutdown stops srv from accepting connections and waits for
// active requests, including PDF streams, to finish.
func GracefulShutdown(srv *http.Server, timeout time.Duration, logger types.Logger, metrics types.Metrics, startTime time.Time) error {
	ctx := context.Background()

	metrics.RecordSuccess("shutdown_initiated")
	logger.Info(ctx, "Shutting down gracefully", types.Fields{
		"uptime_seconds": time.Since(startTime).Seconds(),
		"timeout":        timeout.String(),
	})

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		metrics.RecordError("shutdown", "timeout")
		logger.Error(ctx, "Graceful shutdown did not complete", err, nil)
		_ = srv.Close()
		return err
	}

	metrics.RecordDuration("service_uptime", time.Since(startTime).Seconds())
	metrics.RecordSuccess("shutdown_complete")
	logger.Info(ctx, "Shutdown complete", nil)

	return nil
}
