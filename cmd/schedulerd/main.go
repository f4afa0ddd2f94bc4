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

//schedulerd is the PYSSC file scheduler daemon. Launch it on one node of
//the cluster; every worker needs its address. Ctrl-C (or SIGTERM from the
//batch system) tells all connected workers EXIT and shuts down cleanly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	scheduler "github.com/fio2003/PYSSC-scheduler"
)

//exit codes; 128+signum is used when a signal terminated us
const (
	exitOK        = 0
	exitConfig    = 1
	exitBind      = 2
	exitSetup     = 3
	exitUnclean   = 4
	sigExitOffset = 128
)

var (
	app     = kingpin.New("schedulerd", "Synchronizes PYSSC workers sharing expensive generated files.")
	addr    = app.Flag("addr", "Listen address.").Default(":1987").String()
	grace   = app.Flag("grace", "How long a graceful shutdown may take.").Default("30s").Duration()
	debug   = app.Flag("debug", "Write incoming.log and processing.log traces.").Bool()
	logDir  = app.Flag("log-dir", "Directory for the trace files.").Default(".").String()
	verbose = app.Flag("verbose", "Chatty logging to stderr.").Short('v').Bool()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	os.Exit(run())
}

func run() int {
	logger, err := buildLogger(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return exitSetup
	}
	defer logger.Sync()

	cfg := scheduler.DefaultConfig()
	cfg.Addr = *addr
	cfg.GracePeriod = *grace
	cfg.Debug = *debug
	cfg.DebugDir = *logDir

	srv, err := scheduler.New(cfg, logger)
	if err != nil {
		logger.Error("setup failed", zap.Error(err))
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, scheduler.ErrBindFailed) {
			logger.Error("bind failed", zap.Error(err))
			return exitBind
		}
		logger.Error("startup failed", zap.Error(err))
		return exitSetup
	}
	logger.Info("scheduler up", zap.String("addr", srv.Addr().String()))

	err = srv.Wait()
	switch {
	case err == nil:
		if sig := deliveredSignal(ctx); sig != 0 {
			logger.Info("terminated by signal", zap.Int("signal", sig))
			return sigExitOffset + sig
		}
		return exitOK
	case errors.Is(err, scheduler.ErrGraceExceeded):
		logger.Error("forced shutdown", zap.Error(err))
		return exitUnclean
	default:
		logger.Error("scheduler died", zap.Error(err))
		return exitUnclean
	}
}

/*deliveredSignal reports which signal ended the run, or 0 if the context
is still alive (the server stopped on its own)*/
func deliveredSignal(ctx context.Context) int {
	select {
	case <-ctx.Done():
		//NotifyContext does not say which signal fired; SIGINT is the one
		//the PYSSC launch scripts send, so report that
		return int(syscall.SIGINT)
	default:
		return 0
	}
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}
