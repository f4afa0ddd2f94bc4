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

	"github.com/pkg/errors"
)

/*Op is the verb a worker puts in a request frame*/
type Op string

const (
	//OpRead asks whether the target may be read.
	OpRead Op = "READ"
	//OpWrit asks whether this worker should generate the target.
	OpWrit Op = "WRIT"
	//OpDone reports that this worker finished generating the target.
	OpDone Op = "DONE"
)

/*Advice is the scheduler's answer, sent on the wire as a bare 4-byte token*/
type Advice string

const (
	//AdviceRead tells the worker the target exists and is safe to read.
	AdviceRead Advice = "READ"
	//AdviceWrit tells the worker it is the one generating the target.
	AdviceWrit Advice = "WRIT"
	//AdviceWait tells the worker someone else is generating; a READ (or, if
	//the generator dies, a WRIT) will arrive on the same connection later.
	AdviceWait Advice = "WAIT"
	//AdviceExit tells the worker the scheduler is going away.
	AdviceExit Advice = "EXIT"
)

/*Request is one decoded frame. The (PID, Target) pair identifies an
outstanding claim; the connection it arrived on is tracked separately by
the dispatcher*/
type Request struct {
	PID    int
	Op     Op
	Target string
}

const (
	sep = '#'
	//lenDigitsMax bounds the ASCII length prefix; 7 digits already exceeds
	//the default MaxFrameSize many times over, so anything longer is treated
	//as garbage, not a frame, whatever MaxFrameSize is set to.
	lenDigitsMax = 7
)

/*EncodeRequest renders a request into its wire frame. The inverse of what
ParseFrames does, used by the Client and by tests. The length prefix counts
the separator it is followed by, not just the payload: pid 7 claiming "a"
goes out as "9#7#WRIT#a", the way every deployed worker already frames it*/
func EncodeRequest(req Request) []byte {
	payload := strconv.Itoa(req.PID) + string(sep) + string(req.Op) + string(sep) + req.Target
	return append([]byte(strconv.Itoa(len(payload)+1)+string(sep)), payload...)
}

/*
ParseFrames decodes every complete frame sitting in buf. It returns the
decoded requests in delivery order, the count of trailing bytes that belong
to an incomplete frame (the caller keeps those for the next read), and an
error wrapping ErrProtocol if the buffer cannot be frames at all.

Delivery order is not arrival order: DONE requests parsed from this buffer
are moved ahead of READ and WRIT requests from the same buffer, so that
completions free their targets before new claims from the same batch land.
READ/WRIT requests keep their relative order, which fixes the per-connection
response order.
*/
func ParseFrames(buf []byte, maxFrame int) (reqs []Request, residual int, err error) {
	var dones, claims []Request
	rest := buf
	for len(rest) > 0 {
		frameLen, payload, ok, perr := splitFrame(rest, maxFrame)
		if perr != nil {
			return nil, 0, perr
		}
		if !ok { //incomplete trailing frame
			break
		}
		req, perr := parsePayload(payload)
		if perr != nil {
			return nil, 0, perr
		}
		if req.Op == OpDone {
			dones = append(dones, req)
		} else {
			claims = append(claims, req)
		}
		rest = rest[frameLen:]
	}
	return append(dones, claims...), len(rest), nil
}

/*splitFrame peels one frame off the front of buf. ok is false when buf
holds only a prefix of a frame; frameLen is the full encoded length
(digits plus everything the length prefix counts) when ok. The length
prefix counts from its own terminating '#' onward, so a frame is exactly
digits+L bytes long and the payload is L-1 of them*/
func splitFrame(buf []byte, maxFrame int) (frameLen int, payload []byte, ok bool, err error) {
	digits := 0
	for digits < len(buf) && buf[digits] >= '0' && buf[digits] <= '9' {
		digits++
	}
	switch {
	case digits == 0:
		return 0, nil, false, errors.Wrapf(ErrProtocol, "frame starts with %q, not a length", buf[0])
	case digits > lenDigitsMax:
		return 0, nil, false, errors.Wrap(ErrProtocol, "length prefix is absurdly long")
	case digits == len(buf):
		return 0, nil, false, nil //still reading the length prefix
	case buf[digits] != sep:
		return 0, nil, false, errors.Wrapf(ErrProtocol, "length prefix ends with %q, not '#'", buf[digits])
	}
	l, _ := strconv.Atoi(string(buf[:digits]))
	switch {
	case l < 1:
		return 0, nil, false, errors.Wrap(ErrProtocol, "length prefix counts its own separator, zero cannot be a frame")
	case l > maxFrame:
		return 0, nil, false, errors.Wrapf(ErrProtocol, "frame of %d bytes exceeds the %d byte limit", l, maxFrame)
	}
	if len(buf) < digits+l {
		return 0, nil, false, nil //payload not all here yet
	}
	return digits + l, buf[digits+1 : digits+l], true, nil
}

/*parsePayload splits pid#op#target (plus ignored trailing fields) out of a
complete frame payload*/
func parsePayload(payload []byte) (Request, error) {
	fields := bytes.Split(payload, []byte{sep})
	if len(fields) < 3 {
		return Request{}, errors.Wrapf(ErrProtocol, "payload %q has %d fields, need pid, op and target", payload, len(fields))
	}
	pid, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		return Request{}, errors.Wrapf(ErrProtocol, "pid %q is not a number", fields[0])
	}
	op := Op(fields[1])
	switch op {
	case OpRead, OpWrit, OpDone:
	default:
		return Request{}, errors.Wrapf(ErrProtocol, "unknown op %q", fields[1])
	}
	if len(fields[2]) == 0 {
		return Request{}, errors.Wrap(ErrProtocol, "empty target")
	}
	return Request{PID: pid, Op: op, Target: string(fields[2])}, nil
}
