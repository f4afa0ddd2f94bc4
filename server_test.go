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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*startScheduler brings a full server up on a kernel-picked port and tears
it down with the test*/
func startScheduler(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.GracePeriod = 5 * time.Second

	srv, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		cancel()
		srv.Wait()
	})
	return srv, cancel
}

func dialWorker(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

/*token reads exactly one bare 4-byte response*/
func token(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	tok := make([]byte, 4)
	_, err := io.ReadFull(conn, tok)
	require.NoError(t, err, "expected a 4-byte token")
	return string(tok)
}

/*silent asserts nothing arrives on conn for the given stretch*/
func silent(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	one := make([]byte, 1)
	n, err := conn.Read(one)
	require.Zero(t, n, "unexpected byte from the scheduler")
	require.Error(t, err)
	ne, ok := err.(net.Error)
	require.True(t, ok && ne.Timeout(), "wanted silence, got %v", err)
}

func ask(t *testing.T, conn net.Conn, raw string) {
	t.Helper()
	_, err := conn.Write([]byte(raw))
	require.NoError(t, err)
}

func TestServerFirstGeneratorLateReader(t *testing.T) {
	srv, _ := startScheduler(t)
	c1, c2 := dialWorker(t, srv), dialWorker(t, srv)

	ask(t, c1, "9#7#WRIT#a")
	assert.Equal(t, "WRIT", token(t, c1))

	ask(t, c2, "9#8#READ#a")
	assert.Equal(t, "WAIT", token(t, c2))

	ask(t, c1, "9#7#DONE#a")
	//unsolicited promotion on the waiter's own connection
	assert.Equal(t, "READ", token(t, c2))
	silent(t, c1, 100*time.Millisecond) //DONE itself is never answered
}

func TestServerTwoGeneratorsRace(t *testing.T) {
	srv, _ := startScheduler(t)
	c1, c2 := dialWorker(t, srv), dialWorker(t, srv)

	ask(t, c1, "9#1#WRIT#b")
	assert.Equal(t, "WRIT", token(t, c1))

	ask(t, c2, "9#2#WRIT#b")
	assert.Equal(t, "WAIT", token(t, c2))

	ask(t, c1, "9#1#DONE#b")
	//the file now exists, so the losing generator reads instead
	assert.Equal(t, "READ", token(t, c2))
}

func TestServerReadAfterProduction(t *testing.T) {
	srv, _ := startScheduler(t)
	c1 := dialWorker(t, srv)

	ask(t, c1, "9#1#WRIT#c")
	assert.Equal(t, "WRIT", token(t, c1))
	ask(t, c1, "9#1#DONE#c")

	c2 := dialWorker(t, srv)
	ask(t, c2, "9#2#READ#c")
	assert.Equal(t, "READ", token(t, c2))
}

func TestServerGeneratorDies(t *testing.T) {
	srv, _ := startScheduler(t)
	c1, c2, c3 := dialWorker(t, srv), dialWorker(t, srv), dialWorker(t, srv)

	ask(t, c1, "9#1#WRIT#d")
	assert.Equal(t, "WRIT", token(t, c1))
	ask(t, c2, "9#2#READ#d")
	assert.Equal(t, "WAIT", token(t, c2))
	ask(t, c3, "9#3#READ#d")
	assert.Equal(t, "WAIT", token(t, c3))

	//the generating node crashes without a word
	c1.Close()

	//earliest waiter inherits the generation...
	assert.Equal(t, "WRIT", token(t, c2))
	//...the later one keeps waiting
	silent(t, c3, 100*time.Millisecond)

	ask(t, c2, "9#2#DONE#d")
	assert.Equal(t, "READ", token(t, c3))
}

func TestServerBatchedFrames(t *testing.T) {
	srv, _ := startScheduler(t)
	c1 := dialWorker(t, srv)

	//three frames in one segment; the DONE must land between the WRIT and
	//the READ, where it sits on the wire
	ask(t, c1, "9#1#WRIT#e9#1#DONE#e9#2#READ#e")
	assert.Equal(t, "WRIT", token(t, c1))
	assert.Equal(t, "READ", token(t, c1))
	silent(t, c1, 100*time.Millisecond)
}

func TestServerSplitFrame(t *testing.T) {
	srv, _ := startScheduler(t)
	c1 := dialWorker(t, srv)

	//a frame dribbling in byte by byte still parses once complete
	for _, b := range []byte("9#7#WRIT#a") {
		ask(t, c1, string(b))
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, "WRIT", token(t, c1))
}

func TestServerGracefulShutdown(t *testing.T) {
	srv, cancel := startScheduler(t)
	c1, c2 := dialWorker(t, srv), dialWorker(t, srv)

	ask(t, c1, "9#1#WRIT#f")
	assert.Equal(t, "WRIT", token(t, c1))
	//make sure c2 is registered, not still sitting in the accept queue
	ask(t, c2, "9#2#READ#f")
	assert.Equal(t, "WAIT", token(t, c2))

	cancel()
	assert.Equal(t, "EXIT", token(t, c1))
	assert.Equal(t, "EXIT", token(t, c2))
	require.NoError(t, srv.Wait(), "shutdown should beat the grace period")
}

func TestServerProtocolErrorDropsConnection(t *testing.T) {
	srv, _ := startScheduler(t)
	c1, c2 := dialWorker(t, srv), dialWorker(t, srv)

	//c1 claims a target, then turns to gibberish
	ask(t, c1, "9#1#WRIT#g")
	assert.Equal(t, "WRIT", token(t, c1))
	ask(t, c2, "9#2#READ#g")
	assert.Equal(t, "WAIT", token(t, c2))

	ask(t, c1, "GET / HTTP/1.1\r\n\r\n")
	//the scheduler hangs up on c1...
	c1.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	_, err := c1.Read(buf)
	require.Error(t, err, "connection should be closed after garbage")

	//...and its claim recovery elects the waiter
	assert.Equal(t, "WRIT", token(t, c2))
}

func TestServerBindFailure(t *testing.T) {
	//occupy a port, then ask the scheduler to bind it with a single attempt
	squatter, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer squatter.Close()

	cfg := DefaultConfig()
	cfg.Addr = squatter.Addr().String()
	cfg.BindAttempts = 1

	srv, err := New(cfg, nil)
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBindFailed), "got %v", err)
	assert.ErrorIs(t, srv.Wait(), ErrBindFailed)
}

func TestServerDumpClaims(t *testing.T) {
	srv, _ := startScheduler(t)
	c1 := dialWorker(t, srv)
	ask(t, c1, "9#5#WRIT#h")
	assert.Equal(t, "WRIT", token(t, c1))
	assert.Contains(t, srv.DumpClaims(), "WRIT")
}

func TestServerConfigRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GracePeriod = 0
	_, err := New(cfg, nil)
	require.Error(t, err)

	_, err = New(nil, nil)
	require.Error(t, err)
}
