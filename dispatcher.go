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
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

/*event is what a connection reader sends the dispatcher: a chunk of bytes,
or the error that ended the connection (io.EOF on a clean hangup)*/
type event struct {
	id   uint64
	data []byte
	err  error
}

/*
dispatcher is the deciding goroutine. Every connection gets a small reader
goroutine that does nothing but drain the socket and push chunks onto the
events channel; the dispatcher alone touches the registry, the pending
buffers and the arbiter, parses frames, and writes every response. One
decider means the claim table needs no locks and responses on a connection
come out in the order its requests were parsed.
*/
type dispatcher struct {
	cfg      *Config
	log      *zap.Logger
	incoming *zap.Logger //incoming.log trace, nop unless debug is on
	reg      *registry
	arb      *Arbiter
	accepted <-chan net.Conn
	events   chan event
	nextID   uint64
}

func newDispatcher(cfg *Config, log, incoming *zap.Logger, arb *Arbiter, accepted <-chan net.Conn) *dispatcher {
	if incoming == nil {
		incoming = zap.NewNop()
	}
	return &dispatcher{
		cfg:      cfg,
		log:      log,
		incoming: incoming,
		reg:      newRegistry(),
		arb:      arb,
		accepted: accepted,
		events:   make(chan event, cfg.AcceptBacklog),
	}
}

func (d *dispatcher) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case conn := <-d.accepted:
			d.admit(ctx, conn)
		case ev := <-d.events:
			d.handle(ev)
		}
	}
}

/*admit registers a fresh connection and spawns its reader*/
func (d *dispatcher) admit(ctx context.Context, conn net.Conn) {
	d.nextID++
	id := d.nextID
	d.reg.add(id, conn)
	d.log.Info("worker connected",
		zap.Uint64("conn", id),
		zap.String("remote", conn.RemoteAddr().String()))
	go d.readLoop(ctx, id, conn)
}

/*readLoop shovels bytes from one socket into the events channel. It holds
no state beyond its scratch buffer; reassembly happens in the dispatcher
where the pending buffer lives. The loop dies with the connection: either
the peer hangs up, or the dispatcher closes the socket and the blocked Read
pops with an error we no longer care about*/
func (d *dispatcher) readLoop(ctx context.Context, id uint64, conn net.Conn) {
	buf := make([]byte, d.cfg.ReadChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case d.events <- event{id: id, data: chunk}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case d.events <- event{id: id, err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

/*handle is one dispatcher step: append bytes to the connection's pending
buffer, peel off complete frames, run each through the arbiter, send the
answers. Errors of any kind on a connection funnel into closeConn*/
func (d *dispatcher) handle(ev event) {
	st := d.reg.get(ev.id)
	if st == nil {
		return //connection already torn down, stale event
	}
	if ev.err != nil {
		if ev.err != io.EOF {
			d.log.Warn("read failed", zap.Uint64("conn", ev.id), zap.Error(ev.err))
		}
		d.closeConn(ev.id)
		return
	}

	st.pending = append(st.pending, ev.data...)
	reqs, residual, err := ParseFrames(st.pending, d.cfg.MaxFrameSize)
	if err != nil {
		d.log.Warn("protocol error", zap.Uint64("conn", ev.id), zap.Error(err))
		d.closeConn(ev.id)
		return
	}
	if residual > 0 {
		tail := make([]byte, residual)
		copy(tail, st.pending[len(st.pending)-residual:])
		st.pending = tail
	} else {
		st.pending = nil
	}

	for _, req := range reqs {
		d.incoming.Info("request",
			zap.Uint64("conn", ev.id),
			zap.Int("pid", req.PID),
			zap.String("op", string(req.Op)),
			zap.String("target", req.Target))
		advice, notices := d.arb.Submit(req, ev.id)
		if advice != "" {
			if err := d.send(st, advice); err != nil {
				d.log.Warn("send failed", zap.Uint64("conn", ev.id), zap.Error(err))
				d.closeConn(ev.id)
				d.deliver(notices)
				return //st is gone, stop feeding its parsed requests
			}
		}
		d.deliver(notices)
	}
}

/*deliver pushes promotion notices out. A notice that cannot be written
closes its connection, and that close can recover further claims and mint
further notices, so this drains a worklist instead of recursing*/
func (d *dispatcher) deliver(notices []Notice) {
	queue := notices
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		st := d.reg.get(n.Conn)
		if st == nil {
			continue //raced with its own teardown; the claim is gone already
		}
		if err := d.send(st, n.Advice); err != nil {
			d.log.Warn("notify failed", zap.Uint64("conn", n.Conn), zap.Error(err))
			d.reg.remove(n.Conn)
			st.conn.Close()
			queue = append(queue, d.arb.DropConn(n.Conn)...)
		}
	}
}

/*send writes one bare 4-byte token, looping over short writes until the
whole token is on the wire or the socket refuses*/
func (d *dispatcher) send(st *connState, advice Advice) error {
	tok := []byte(advice)
	//a wedged worker may stall its peers for at most this long
	st.conn.SetWriteDeadline(time.Now().Add(time.Second))
	for off := 0; off < len(tok); {
		n, err := st.conn.Write(tok[off:])
		off += n
		if err != nil {
			return newErr(false, false, errors.Wrapf(err, "wrote %d of %d bytes", off, len(tok)))
		}
	}
	return nil
}

/*closeConn tears a connection down and runs claim recovery: the lost
worker's claims are dropped, and if one of them was generating a target,
the earliest waiter is elected the new generator*/
func (d *dispatcher) closeConn(id uint64) {
	st := d.reg.remove(id)
	if st == nil {
		return
	}
	st.conn.Close()
	d.log.Info("worker disconnected", zap.Uint64("conn", id), zap.Int("claims", d.arb.Len()))
	d.deliver(d.arb.DropConn(id))
}

/*shutdown tells every still-connected worker EXIT and closes everything.
Best effort: a worker that cannot be written to is simply closed*/
func (d *dispatcher) shutdown() {
	for _, st := range d.reg.all() {
		if err := d.send(st, AdviceExit); err != nil {
			d.log.Warn("exit notice failed", zap.Uint64("conn", st.id), zap.Error(err))
		}
		st.conn.Close()
		d.reg.remove(st.id)
	}
	if d.arb.Len() > 0 {
		d.log.Debug("claims at shutdown", zap.String("table", d.arb.String()))
	}
}
