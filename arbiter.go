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
	"bytes"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
)

/*claim is the arbiter's record of a request that has been answered but not
yet finished. A WAIT claim mutates at most once: to READ when the generator
reports DONE, or to WRIT when the generator's connection dies and this
waiter is the earliest in line*/
type claim struct {
	pid    int
	conn   uint64
	target string
	advice Advice
}

/*Notice is an unsolicited response the dispatcher must deliver: a waiter
being promoted, on a connection other than the one that caused it*/
type Notice struct {
	Conn   uint64
	Advice Advice
}

/*
Arbiter owns the table of outstanding claims and decides what every request
is answered with. It is deliberately free of locks: the dispatcher is the
only goroutine that calls it, which is the whole concurrency design: one
decider, many byte shovels.

Claims are kept in arrival order. Whenever a scan could match several
claims, the earliest one wins; waiter promotion after a lost generator also
picks the earliest waiter. That keeps the outcome deterministic no matter
how connections interleave.
*/
type Arbiter struct {
	claims []*claim
	trace  *zap.Logger //processing trace, nop unless debug is on
}

/*NewArbiter returns an empty claim table. trace may be nil; it becomes the
processing.log sink when the server runs with Debug set*/
func NewArbiter(trace *zap.Logger) *Arbiter {
	if trace == nil {
		trace = zap.NewNop()
	}
	return &Arbiter{trace: trace}
}

/*
Submit runs one request through the table and returns the direct answer plus
any promotions to deliver on other connections. DONE has no direct answer;
the empty Advice "" means "send nothing back".

READ from (pid, conn) for target T:
  - any WRIT or WAIT claim on T means the file is still being made: WAIT
  - any READ claim on T means it exists: READ
  - no claim at all: READ (nobody announced generating it, so trust the
    shared filesystem to have it; workers only ask READ for targets they
    believe in)

WRIT is the same scan, except an empty table answers WRIT: the asker becomes
the generator.

DONE from (pid, conn) for target T removes that pid's claim on T and
promotes every WAIT claim on T to READ, each promotion producing a Notice.
A DONE for a claim that is already gone does nothing.
*/
func (a *Arbiter) Submit(req Request, conn uint64) (Advice, []Notice) {
	switch req.Op {
	case OpDone:
		return "", a.finish(req.PID, req.Target)
	case OpRead, OpWrit:
		advice := a.scan(req.Target, req.Op)
		a.claims = append(a.claims, &claim{pid: req.PID, conn: conn, target: req.Target, advice: advice})
		a.trace.Info("claim",
			zap.Int("pid", req.PID),
			zap.Uint64("conn", conn),
			zap.String("op", string(req.Op)),
			zap.String("target", req.Target),
			zap.String("advice", string(advice)))
		return advice, nil
	default:
		//ParseFrames never lets an unknown op through
		return "", nil
	}
}

/*scan walks the table in arrival order and computes the advice for a new
READ or WRIT claim on target*/
func (a *Arbiter) scan(target string, op Op) Advice {
	for _, c := range a.claims {
		if c.target != target {
			continue
		}
		switch c.advice {
		case AdviceWrit, AdviceWait:
			return AdviceWait
		case AdviceRead:
			return AdviceRead
		}
	}
	if op == OpRead {
		return AdviceRead
	}
	return AdviceWrit
}

/*finish handles DONE: drop the finisher's claim, turn every waiter on the
target into a reader. A pid holding no claim on target changes nothing*/
func (a *Arbiter) finish(pid int, target string) []Notice {
	held := false
	for _, c := range a.claims {
		if c.target == target && c.pid == pid {
			held = true
			break
		}
	}
	if !held {
		return nil //already finished: a repeated DONE is a no-op
	}
	var notices []Notice
	kept := a.claims[:0]
	for _, c := range a.claims {
		if c.target == target && c.pid == pid {
			a.trace.Info("done",
				zap.Int("pid", pid),
				zap.String("target", target),
				zap.String("was", string(c.advice)))
			continue //claim completed, drop it
		}
		if c.target == target && c.advice == AdviceWait {
			c.advice = AdviceRead
			notices = append(notices, Notice{Conn: c.conn, Advice: AdviceRead})
			a.trace.Info("promoted",
				zap.Int("pid", c.pid),
				zap.Uint64("conn", c.conn),
				zap.String("target", target),
				zap.String("advice", string(AdviceRead)))
		}
		kept = append(kept, c)
	}
	a.claims = kept
	return notices
}

/*
DropConn removes every claim held over a lost connection. If one of the
removed claims was the WRIT holder, the earliest surviving WAIT claim on the
same target is promoted to WRIT and a Notice tells its worker to start
generating. Without that promotion a crashed generator would strand its
waiters forever.
*/
func (a *Arbiter) DropConn(conn uint64) []Notice {
	var lost []*claim
	kept := a.claims[:0]
	for _, c := range a.claims {
		if c.conn == conn {
			lost = append(lost, c)
			continue
		}
		kept = append(kept, c)
	}
	a.claims = kept

	var notices []Notice
	for _, c := range lost {
		a.trace.Info("dropped",
			zap.Int("pid", c.pid),
			zap.Uint64("conn", conn),
			zap.String("target", c.target),
			zap.String("was", string(c.advice)))
		if c.advice != AdviceWrit {
			continue //lost readers and waiters strand nobody
		}
		if w := a.earliestWaiter(c.target); w != nil {
			w.advice = AdviceWrit
			notices = append(notices, Notice{Conn: w.conn, Advice: AdviceWrit})
			a.trace.Info("elected",
				zap.Int("pid", w.pid),
				zap.Uint64("conn", w.conn),
				zap.String("target", c.target))
		}
	}
	return notices
}

func (a *Arbiter) earliestWaiter(target string) *claim {
	for _, c := range a.claims {
		if c.target == target && c.advice == AdviceWait {
			return c
		}
	}
	return nil
}

/*Len reports the number of outstanding claims*/
func (a *Arbiter) Len() int {
	return len(a.claims)
}

//String renders the claim table for debugging, one row per claim in
//arrival order.
func (a *Arbiter) String() string {
	buf := bytes.NewBufferString("")
	tw := tablewriter.NewWriter(buf)
	tw.SetAutoWrapText(false)
	tw.SetHeader([]string{"Target", "PID", "Conn", "Advice"})
	for _, c := range a.claims {
		tw.Append([]string{
			c.target,
			strconv.Itoa(c.pid),
			strconv.FormatUint(c.conn, 10),
			string(c.advice),
		})
	}
	tw.Render()
	return buf.String()
}
