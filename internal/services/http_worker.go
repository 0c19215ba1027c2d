package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/hookdeck/mqbridge/internal/logging"
	"github.com/hookdeck/mqbridge/internal/worker"
	"go.uber.org/zap"
)

const (
	httpWorkerName      = "http-server"
	httpShutdownTimeout = 10 * time.Second
)

// httpServerRoutine serves handler on addr. An http.Server cannot serve
// again after Shutdown, so every cycle builds its own.
type httpServerRoutine struct {
	addr    string
	handler http.Handler
	logger  *logging.Logger
}

// NewHTTPServerWorker wraps an HTTP handler as a worker. The listener is
// bound before the worker reports a successful start, so a port conflict
// fails Start instead of surfacing later.
func NewHTTPServerWorker(addr string, handler http.Handler, logger *logging.Logger, opts ...worker.Option) *worker.Worker {
	logger = logger.With(zap.String("worker", httpWorkerName))
	routine := &httpServerRoutine{
		addr:    addr,
		handler: handler,
		logger:  logger,
	}
	opts = append([]worker.Option{worker.WithLogger(logger)}, opts...)
	return worker.New(httpWorkerName, routine, opts...)
}

func (r *httpServerRoutine) Work(w *worker.Worker) {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		r.logger.Error("http server failed to listen", zap.String("addr", r.addr), zap.Error(err))
		w.Started(false)
		return
	}
	server := &http.Server{
		Addr:              r.addr,
		Handler:           r.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !w.Started(true) {
		ln.Close()
		return
	}
	r.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-w.StopRequested():
		r.logger.Info("shutting down http server")
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			r.logger.Error("error shutting down http server", zap.Error(err))
			w.Finished(false)
			return
		}
		r.logger.Info("http server shut down")
		w.Finished(true)

	case err := <-errChan:
		r.logger.Error("http server error", zap.Error(err))
		w.Finished(false)
	}
}
