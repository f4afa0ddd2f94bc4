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
	"time"

	"github.com/pkg/errors"
)

//DefaultPort is the port the scheduler listens on when the config does not
//say otherwise. Every PYSSC worker ships with the same default.
const DefaultPort = 1987

/*Config carries everything the Server needs to run. The zero value is not
usable; start from DefaultConfig and override fields as needed*/
type Config struct {
	//Addr is the listen address in host:port form. An empty host binds all
	//IPv4 interfaces.
	Addr string

	//BindAttempts is how many times the acceptor tries to bind Addr before
	//giving up with ErrBindFailed.
	BindAttempts int

	//BindBackoff is the fixed pause between failed bind attempts.
	BindBackoff time.Duration

	//AcceptBacklog sizes the hand-off queue between the acceptor and the
	//dispatcher. Accepts block once the dispatcher falls this far behind.
	AcceptBacklog int

	//ReadChunkSize is the size of the buffer each connection reader drains
	//the socket with. Frames larger than this simply arrive in pieces.
	ReadChunkSize int

	//MaxFrameSize caps the length prefix a client may send. Anything larger
	//is treated as a protocol error and the connection is dropped.
	MaxFrameSize int

	//GracePeriod is how long a graceful shutdown may take before the
	//watchdog gives up on it and Server.Wait returns ErrGraceExceeded.
	GracePeriod time.Duration

	//Debug turns on the two append-only trace files, incoming.log and
	//processing.log, written under DebugDir.
	Debug bool

	//DebugDir is where the trace files go. Defaults to the working directory.
	DebugDir string
}

/*DefaultConfig returns a Config with the values the original deployment ran
with: port 1987 on all interfaces, five bind attempts two seconds apart, and
a thirty second shutdown grace*/
func DefaultConfig() *Config {
	return &Config{
		Addr:          ":1987",
		BindAttempts:  5,
		BindBackoff:   2 * time.Second,
		AcceptBacklog: 128,
		ReadChunkSize: 4096,
		MaxFrameSize:  64 * 1024,
		GracePeriod:   30 * time.Second,
		Debug:         false,
		DebugDir:      ".",
	}
}

/*VerifyConfig checks that a Config is internally sane. New calls this
before building the Server, so nothing touches the network with a bad one*/
func VerifyConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if cfg.Addr == "" {
		return errors.New("listen address must not be empty")
	}
	if cfg.BindAttempts < 1 {
		return errors.New("need at least one bind attempt")
	}
	if cfg.BindBackoff < 0 {
		return errors.New("bind backoff must not be negative")
	}
	if cfg.AcceptBacklog < 1 {
		return errors.New("accept backlog must hold at least one connection")
	}
	if cfg.ReadChunkSize < 64 {
		return errors.New("read chunk is too small to hold a frame header")
	}
	if cfg.MaxFrameSize < 16 {
		return errors.New("max frame size cannot fit the smallest request")
	}
	if cfg.GracePeriod <= 0 {
		return errors.New("grace period must be positive")
	}
	return nil
}
