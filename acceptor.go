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
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

/*acceptor owns the listening socket. It binds with a bounded retry,
accepts workers for as long as the context lives, and hands each accepted
socket to the dispatcher over the accepted channel, the one synchronized
queue the two executors share*/
type acceptor struct {
	cfg      *Config
	log      *zap.Logger
	lis      net.Listener
	accepted chan net.Conn
}

func newAcceptor(cfg *Config, log *zap.Logger) *acceptor {
	return &acceptor{
		cfg:      cfg,
		log:      log,
		accepted: make(chan net.Conn, cfg.AcceptBacklog),
	}
}

/*bind tries to listen on the configured address, pausing BindBackoff
between attempts. The node the scheduler restarts on often still holds the
port in TIME_WAIT, so a few retries are routine, not an anomaly*/
func (ac *acceptor) bind(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= ac.cfg.BindAttempts; attempt++ {
		lis, err := net.Listen("tcp4", ac.cfg.Addr)
		if err == nil {
			ac.lis = lis
			ac.log.Info("listening", zap.String("addr", lis.Addr().String()))
			return nil
		}
		lastErr = err
		ac.log.Warn("bind failed",
			zap.String("addr", ac.cfg.Addr),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == ac.cfg.BindAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return newErr(false, false, errors.Wrap(ctx.Err(), "gave up binding"))
		case <-time.After(ac.cfg.BindBackoff):
		}
	}
	return newErr(false, false, errors.Wrapf(ErrBindFailed, "%v after %d attempts on %s", lastErr, ac.cfg.BindAttempts, ac.cfg.Addr))
}

/*
run accepts until the context collapses or the listener breaks. A separate
goroutine slams the listener shut on cancellation, which pops the blocking
Accept immediately; that error is then recognized as a normal exit. Accept
errors that the OS calls temporary (fd exhaustion, mostly) are ridden out
with a short pause rather than taking the whole scheduler down.
*/
func (ac *acceptor) run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ac.lis.Close()
	}()
	for {
		conn, err := ac.lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil //listener closed by the shutdown goroutine above
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				ac.log.Warn("accept hiccup", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return newErr(false, false, errors.Wrap(err, "accept failed"))
		}
		select {
		case ac.accepted <- conn:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
	}
}
