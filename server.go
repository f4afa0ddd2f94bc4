package scheduler

/*
MIT License

Copyright (c) 2018 Ivan Syzonenko

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

/*
Server is the whole scheduler: the acceptor and the dispatcher under one
roof, plus shutdown choreography. Typical use:

	srv, err := scheduler.New(scheduler.DefaultConfig(), logger)
	...
	if err := srv.Start(ctx); err != nil { ... }
	err = srv.Wait()

Cancelling ctx (the daemon wires it to SIGINT) begins a graceful shutdown:
the acceptor stops listening, the dispatcher sends EXIT to every worker and
closes their connections. If that has not finished within
Config.GracePeriod a watchdog closes the listening socket and Wait returns
ErrGraceExceeded without waiting further for the executors; worker
connections still open at that point are not closed by the watchdog.
*/
type Server struct {
	cfg *Config
	log *zap.Logger

	arb *Arbiter
	ac  *acceptor
	dis *dispatcher

	group   *errgroup.Group
	started atomic.Bool
	exiting atomic.Bool
	done    chan struct{}
	err     error //set before done closes

	traceClose func() error //flushes the debug trace files, nil without Debug
}

/*New builds a Server from cfg. logger may be nil, which means log nothing.
The config is checked here, not in Start, so a bad one fails fast*/
func New(cfg *Config, logger *zap.Logger) (*Server, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "bad config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	incoming, processing, closeTraces, err := openTraces(cfg)
	if err != nil {
		return nil, err
	}

	arb := NewArbiter(processing)
	ac := newAcceptor(cfg, logger.Named("acceptor"))
	dis := newDispatcher(cfg, logger.Named("dispatcher"), incoming, arb, ac.accepted)

	return &Server{
		cfg:        cfg,
		log:        logger,
		arb:        arb,
		ac:         ac,
		dis:        dis,
		done:       make(chan struct{}),
		traceClose: closeTraces,
	}, nil
}

/*
Start binds the listening socket (with the configured retry) and launches
the two executors. It returns once the server is reachable, or with an
error wrapping ErrBindFailed if the port never came up. Start may be called
once.
*/
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := s.ac.bind(ctx); err != nil {
		s.err = err
		close(s.done)
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	s.group = group
	group.Go(func() error { return s.ac.run(gctx) })
	group.Go(func() error { return s.dis.run(gctx) })

	go s.reap(ctx)
	return nil
}

/*reap waits for the executors and enforces the grace period: once shutdown
is requested, the executors get GracePeriod to drain before the watchdog
closes the listening socket and stops waiting for them*/
func (s *Server) reap(ctx context.Context) {
	finished := make(chan error, 1)
	go func() { finished <- s.group.Wait() }()

	var err error
	select {
	case err = <-finished:
	case <-ctx.Done():
		s.exiting.Store(true)
		s.log.Info("shutdown requested", zap.Duration("grace", s.cfg.GracePeriod))
		select {
		case err = <-finished:
		case <-time.After(s.cfg.GracePeriod):
			s.log.Error("grace period exceeded, forcing exit")
			s.ac.lis.Close()
			err = ErrGraceExceeded
		}
	}

	if s.traceClose != nil {
		err = multierr.Append(err, s.traceClose())
	}
	s.err = err
	close(s.done)
}

/*Wait blocks until the server has fully stopped and returns the terminal
error: nil after a clean shutdown, ErrGraceExceeded if the watchdog fired,
or whatever fatal condition took an executor down*/
func (s *Server) Wait() error {
	<-s.done
	return s.err
}

/*Addr reports the bound listen address. Handy when the config asked for
port 0 and the OS picked one. Returns nil before Start*/
func (s *Server) Addr() net.Addr {
	if s.ac.lis == nil {
		return nil
	}
	return s.ac.lis.Addr()
}

/*Exiting reports whether shutdown has been requested*/
func (s *Server) Exiting() bool {
	return s.exiting.Load()
}

/*DumpClaims renders the current claim table. Only meaningful for debugging;
the table belongs to the dispatcher goroutine, so a dump taken while
traffic is flowing is a snapshot at best*/
func (s *Server) DumpClaims() string {
	return s.arb.String()
}

/*
openTraces builds the two optional plain-text trace sinks. incoming.log
records every parsed request, processing.log every arbiter decision. Both
are append-only and survive restarts, which is the point: they are the
post-mortem record when a cluster run goes sideways.
*/
func openTraces(cfg *Config) (incoming, processing *zap.Logger, closeAll func() error, err error) {
	if !cfg.Debug {
		return zap.NewNop(), zap.NewNop(), nil, nil
	}

	open := func(name string) (*zap.Logger, *os.File, error) {
		f, err := os.OpenFile(filepath.Join(cfg.DebugDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "unable to open %s", name)
		}
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		core := zapcore.NewCore(enc, zapcore.AddSync(f), zapcore.InfoLevel)
		return zap.New(core), f, nil
	}

	in, inFile, err := open("incoming.log")
	if err != nil {
		return nil, nil, nil, err
	}
	proc, procFile, err := open("processing.log")
	if err != nil {
		inFile.Close()
		return nil, nil, nil, err
	}
	closeAll = func() error {
		in.Sync()
		proc.Sync()
		return multierr.Append(inFile.Close(), procFile.Close())
	}
	return in, proc, closeAll, nil
}
