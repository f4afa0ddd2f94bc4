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
	"net"
	"testing"
	"time"
)

type stubConn struct{ net.Conn }

func (stubConn) Close() error                     { return nil }
func (stubConn) SetWriteDeadline(time.Time) error { return nil }

func TestRegistry(t *testing.T) {
	r := newRegistry()
	if r.len() != 0 {
		t.Error("fresh registry should be empty")
	}

	st := r.add(1, stubConn{})
	st.pending = []byte("9#1#WR") //partial frame carried between reads
	r.add(3, stubConn{})
	r.add(2, stubConn{})

	if got := r.get(1); got != st {
		t.Error("get should return the same state that add created")
	}
	if r.get(99) != nil {
		t.Error("unknown ids should come back nil")
	}

	all := r.all()
	if len(all) != 3 || all[0].id != 1 || all[1].id != 2 || all[2].id != 3 {
		t.Errorf("all() should walk ids in order, got %v", all)
	}

	gone := r.remove(1)
	if gone != st || r.len() != 2 || r.get(1) != nil {
		t.Error("remove should drop the connection and its residue with it")
	}
	if r.remove(1) != nil {
		t.Error("removing twice should be a quiet no-op")
	}
}
