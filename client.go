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

package scheduler

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var _ fmt.Stringer = &Client{}

/*
Client is the worker side of the protocol. One Client holds one connection
to the scheduler and serializes requests over it; the protocol has no
request ids, so in-flight requests must not interleave. As a sanity, there
can only be one caller; this is purposefully not safe for concurrent use of
a single Client. Workers that want parallel targets open parallel Clients.

Acquire is the usual entry point: it announces intent to generate a target
and blocks through any WAIT until the scheduler settles on WRIT (you
generate) or READ (someone else already did). After generating, the worker
must call Release or every waiter on that target hangs until this
connection dies.
*/
type Client struct {
	ctx     context.Context
	cancel  context.CancelFunc
	addr    string
	pid     int
	timeout time.Duration //dial timeout
	poll    time.Duration //read deadline granularity while blocked on advice
	mux     sync.Mutex
	conn    net.Conn
}

/*NewClient dials the scheduler at addr (host:port) and returns a connected
Client. timeout bounds the dial; the ctx bounds the Client's whole life, and
cancelling it aborts any blocked Acquire. The worker's own pid goes into
every frame*/
func NewClient(ctx context.Context, timeout time.Duration, addr string) (*Client, error) {
	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		ctx:     cctx,
		cancel:  cancel,
		addr:    addr,
		pid:     os.Getpid(),
		timeout: timeout,
		poll:    250 * time.Millisecond,
	}
	return c, c.Open()
}

/*String conforms to the fmt.Stringer interface*/
func (c *Client) String() string {
	return fmt.Sprintf("scheduler client %d -> %v", c.pid, c.addr)
}

/*Open forcibly disconnects (ignoring errors) and dials again. Returns an
error if the scheduler cannot be reached or the context is already dead*/
func (c *Client) Open() (err error) {
	select {
	case <-c.ctx.Done():
		return newErr(false, false, c.ctx.Err())
	default:
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	dialer := net.Dialer{
		Timeout:   c.timeout,
		KeepAlive: 1 * time.Second,
	}
	c.conn, err = dialer.DialContext(c.ctx, "tcp4", c.addr)
	return
}

/*Close hangs up and kills the Client's context. Safe to call repeatedly*/
func (c *Client) Close() error {
	c.cancel()
	defer func() { c.conn = nil }()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

/*Acquire asks to generate target. The returned advice is final: AdviceWrit
means this worker generates the file and must Release afterwards,
AdviceRead means the file exists (or will momentarily) and can be read.
Any WAIT in between is ridden out internally, including the case where the
current generator dies and this worker gets elected in its place*/
func (c *Client) Acquire(target string) (Advice, error) {
	return c.request(OpWrit, target)
}

/*AcquireRead asks only to read target; the worker is not volunteering to
generate it. The advice still settles to AdviceRead, or AdviceWrit if a
dying generator's claim fell to this worker*/
func (c *Client) AcquireRead(target string) (Advice, error) {
	return c.request(OpRead, target)
}

/*Release reports DONE for target. The scheduler sends no reply (do not
wait for one) but every waiter on target gets its READ because of this
call, so forgetting it wedges the whole cluster's interest in the target*/
func (c *Client) Release(target string) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.conn == nil {
		return newErr(false, false, ErrClosed)
	}
	return c.push(Request{PID: c.pid, Op: OpDone, Target: target})
}

/*request sends one claim frame and blocks until the advice settles*/
func (c *Client) request(op Op, target string) (Advice, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.conn == nil {
		return "", newErr(false, false, ErrClosed)
	}
	if err := c.push(Request{PID: c.pid, Op: op, Target: target}); err != nil {
		return "", err
	}
	for {
		advice, err := c.nextAdvice()
		if err != nil {
			return "", err
		}
		switch advice {
		case AdviceRead, AdviceWrit:
			return advice, nil
		case AdviceWait:
			//generator still at it; the next token decides
		case AdviceExit:
			return "", newErr(false, false, ErrServerExiting)
		default:
			return "", newErr(false, false, errors.Wrapf(ErrProtocol, "scheduler answered %q", advice))
		}
	}
}

/*push writes one encoded frame, looping over short writes*/
func (c *Client) push(req Request) error {
	raw := EncodeRequest(req)
	for off := 0; off < len(raw); {
		n, err := c.conn.Write(raw[off:])
		off += n
		if err != nil {
			return newErr(false, false, errors.Wrapf(err, "wrote %d of %d bytes", off, len(raw)))
		}
	}
	return nil
}

/*
nextAdvice reads exactly one 4-byte token. Reads run under a short rolling
deadline so a blocked worker still notices its context collapsing, the
same polling discipline the workers' own socket loops use, since WAIT can
legitimately last as long as the generation of a large file.
*/
func (c *Client) nextAdvice() (Advice, error) {
	tok := make([]byte, 4)
	have := 0
	for have < len(tok) {
		select {
		case <-c.ctx.Done():
			defer c.Close()
			return "", newErr(false, false, errors.Wrap(c.ctx.Err(), "abandoned waiting for advice"))
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(c.poll))
		n, err := c.conn.Read(tok[have:])
		have += n
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue //deadline tick, keep waiting
			}
			return "", newErr(false, false, errors.Wrap(err, "connection to scheduler died"))
		}
	}
	return Advice(tok), nil
}
