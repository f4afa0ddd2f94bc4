/*
Package scheduler arbitrates access to shared generated files ("targets")
between PYSSC workers running on different nodes. A target is expensive to
generate; at any moment it is either absent, being generated by exactly one
worker, or present and safe to read by any number of workers. Workers ask
the scheduler what to do with a target, and the scheduler answers with
exactly one of three suggestions: WRIT (you generate it), READ (it exists,
go read it), or WAIT (someone else is generating it, a READ will follow,
or a WRIT if that generator's connection dies).
When a generating worker reports DONE, every waiter on that target is
upgraded to READ and notified on its own connection, unasked.

# Protocol

Requests travel over plain TCP as length-prefixed frames:

	L "#" pid "#" op "#" target

where L is the ASCII decimal length of the rest of the frame, its own
terminating '#' included (pid 7 claiming "a" is the ten bytes
"9#7#WRIT#a"), pid is the worker's ASCII decimal process id, op is one of
READ, WRIT or DONE, and target is an opaque string free of '#'. Several frames may arrive
glued together in one segment, and a frame may arrive split; both are
handled. Responses are bare 4-byte tokens (READ, WRIT, WAIT, EXIT) with no
framing. A DONE never gets a direct response, but it may trigger responses
on other workers' connections.

# Server

The Server runs two executors: an acceptor that owns the listening socket,
and a dispatcher that multiplexes every client connection, feeds complete
frames through the Arbiter, and writes the answers back. The Arbiter's claim
table is touched only from the dispatcher, so it needs no locking. If a
generating worker's connection drops, the earliest waiter on its target is
elected the new generator and told WRIT, so nobody hangs forever behind a
crashed peer.

On an interrupt the server tells every connected worker EXIT, closes up and
leaves. A watchdog forces the issue if that takes longer than the configured
grace period. Nothing is persisted: after a restart workers simply re-ask.

# Client

The Client type implements the worker side of the protocol for Go callers:
Acquire asks for a target (riding out WAIT until the final suggestion
arrives) and Release reports DONE. The reference PYSSC workers speak the
same wire format from Python.

# Error Handling

Transport-level errors returned from this package conform to net.Error, so
after a cast the caller has .Timeout() and .Temporary() available. Fatal
server conditions are wrapped around the exported sentinel errors so the
daemon entry point can pick its exit code.
*/
package scheduler

import (
	"github.com/pkg/errors"
)

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

var (
	//ErrProtocol is returned by the frame parser when a connection sends bytes
	//that cannot be a frame: a length prefix that is not ASCII decimal, a pid
	//that is not a number, an unknown op token, or a missing target field.
	//The dispatcher answers a protocol error by closing the connection.
	ErrProtocol = errors.New("malformed frame on the wire")

	//ErrBindFailed is returned from Server.Start after the configured number
	//of bind attempts were all refused. Usually means the port is taken.
	ErrBindFailed = errors.New("unable to bind the listening socket")

	//ErrServerExiting is returned by Client calls that were answered with the
	//EXIT token: the scheduler is shutting down and no suggestion is coming.
	ErrServerExiting = errors.New("scheduler is shutting down")

	//ErrGraceExceeded is returned from Server.Wait when a graceful shutdown
	//did not finish within Config.GracePeriod and was forced.
	ErrGraceExceeded = errors.New("graceful shutdown exceeded the grace period")

	//ErrClosed is returned by Client calls made after Close, and by a second
	//call to Server.Start.
	ErrClosed = errors.New("already closed")
)
