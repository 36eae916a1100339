package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	gracefulEnvKey      = "DISTRICTWARS_GRACEFUL"
	inheritedListenerFD = 3
	shutdownTimeout     = 30 * time.Second
	readTimeout         = 60 * time.Second
	writeTimeout        = 60 * time.Second
)

// GracefulServer drains in-flight requests on SIGINT/SIGTERM and hands its
// listener to a fresh process on SIGUSR2.
type GracefulServer struct {
	srv       *http.Server
	log       *zap.Logger
	listener  net.Listener
	inherited bool
	hooks     []func(context.Context)

	signals  chan os.Signal
	done     chan struct{}
	stopOnce sync.Once
}

// NewGracefulServer wraps handler. A listener inherited from a restarting
// parent is reused instead of binding addr.
func NewGracefulServer(addr string, handler http.Handler, logger *zap.Logger) *GracefulServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GracefulServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		log:       logger,
		inherited: os.Getenv(gracefulEnvKey) != "",
		signals:   make(chan os.Signal, 1),
		done:      make(chan struct{}),
	}
}

// OnShutdown registers fn to run after the server drained, in registration order.
func (s *GracefulServer) OnShutdown(fn func(context.Context)) {
	s.hooks = append(s.hooks, fn)
}

// ListenAndServe binds the address and serves until shut down.
func (s *GracefulServer) ListenAndServe() error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve handles requests on ln until Shutdown completes. A clean shutdown returns nil.
func (s *GracefulServer) Serve(ln net.Listener) error {
	s.listener = ln
	go s.watchSignals()
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-s.done
		return nil
	}
	return err
}

// Shutdown drains the server and runs the hooks. Later calls are no-ops.
func (s *GracefulServer) Shutdown() {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			s.log.Error("http server shutdown failed", zap.Error(err))
		} else {
			s.log.Info("http server drained")
		}
		for _, fn := range s.hooks {
			fn(ctx)
		}
		close(s.done)
	})
}

func (s *GracefulServer) listen() (net.Listener, error) {
	if s.inherited {
		ln, err := net.FileListener(os.NewFile(inheritedListenerFD, "listener"))
		if err != nil {
			return nil, fmt.Errorf("inherit listener: %w", err)
		}
		return ln, nil
	}
	addr := s.srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

func (s *GracefulServer) watchSignals() {
	signal.Notify(s.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)
	defer signal.Stop(s.signals)
	for {
		select {
		case <-s.done:
			return
		case sig := <-s.signals:
			if sig != syscall.SIGUSR2 {
				s.log.Info("shutting down", zap.String("signal", sig.String()))
				s.Shutdown()
				return
			}
			pid, err := s.restart()
			if err != nil {
				s.log.Error("restart failed, still serving", zap.Error(err))
				continue
			}
			s.log.Info("handed listener to new process", zap.Int("pid", pid))
			s.Shutdown()
			return
		}
	}
}

// restart forks a copy of the running binary that inherits the listener.
func (s *GracefulServer) restart() (int, error) {
	tcp, ok := s.listener.(*net.TCPListener)
	if !ok {
		return 0, errors.New("listener is not a TCP listener")
	}
	file, err := tcp.File()
	if err != nil {
		return 0, fmt.Errorf("listener file: %w", err)
	}
	defer file.Close()

	env := []string{}
	for _, kv := range os.Environ() {
		if kv != gracefulEnvKey+"=1" {
			env = append(env, kv)
		}
	}
	env = append(env, gracefulEnvKey+"=1")
	return syscall.ForkExec(os.Args[0], os.Args, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), file.Fd()},
	})
}

// GraceServer serves handler on addr until a shutdown signal arrives. Each
// hook runs once the server has drained.
func GraceServer(addr string, handler http.Handler, hooks ...func(context.Context)) error {
	s := NewGracefulServer(addr, handler, L().Named("server"))
	for _, h := range hooks {
		s.OnShutdown(h)
	}
	return s.ListenAndServe()
}
