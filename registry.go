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
	"sort"
)

/*connState is everything the dispatcher keeps per live connection: the
socket itself and the residue of the last read that did not end on a frame
boundary. The arbiter never sees this; it refers to connections purely by
id*/
type connState struct {
	id      uint64
	conn    net.Conn
	pending []byte
}

/*registry maps connection id to connState. It is owned by the dispatcher
goroutine alone, so a bare map is all the synchronization it needs*/
type registry struct {
	conns map[uint64]*connState
}

func newRegistry() *registry {
	return &registry{conns: make(map[uint64]*connState)}
}

func (r *registry) add(id uint64, conn net.Conn) *connState {
	st := &connState{id: id, conn: conn}
	r.conns[id] = st
	return st
}

func (r *registry) get(id uint64) *connState {
	return r.conns[id]
}

//remove drops the connection and whatever partial frame it had buffered.
func (r *registry) remove(id uint64) *connState {
	st := r.conns[id]
	delete(r.conns, id)
	return st
}

func (r *registry) len() int {
	return len(r.conns)
}

/*all returns every live connection in id order, so shutdown notifications
go out deterministically*/
func (r *registry) all() []*connState {
	out := make([]*connState, 0, len(r.conns))
	for _, st := range r.conns {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
