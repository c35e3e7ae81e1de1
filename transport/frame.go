// Package transport bridges gadget emit/receive to external channels. A
// Bridge serializes every emission onto a channel exactly once, in emission
// order, and delivers every inbound frame to the gadget via Receive. The
// adapters make no ordering or exactly-once promises across the network:
// gadget state is governed by an ACI merge, so reordering, duplication, and
// delay can slow convergence but never corrupt it.
package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
)

// Frame is the wire representation of one gadget effect. Frames travel as
// newline-delimited JSON on stream transports and as single messages on
// message transports.
type Frame struct {
	Source string        `json:"source"`
	Port   string        `json:"port"`
	Type   string        `json:"type"`
	Value  lattice.Value `json:"value"`
}

// FrameFromEffect converts an emitted effect to its wire form.
func FrameFromEffect(e gadget.Effect) Frame {
	return Frame{Source: e.Source, Port: e.Port, Type: e.Type, Value: e.Value}
}

// Effect converts a received frame back to an effect.
func (f Frame) Effect() gadget.Effect {
	return gadget.Effect{Source: f.Source, Port: f.Port, Type: f.Type, Value: f.Value}
}

// EncodeFrame marshals a frame to its single-line wire form.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Frame", "Encode", "frame serialization")
	}
	return append(data, '\n'), nil
}

// DecodeFrame unmarshals one wire line. A malformed line yields
// ErrMalformedFrame so readers can skip it and resynchronize on the next
// line instead of tearing down the channel.
func DecodeFrame(line []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err),
			"Frame", "Decode", "frame deserialization")
	}
	return f, nil
}

// Conn is a bidirectional frame channel. The bridge serializes Send calls,
// so implementations may assume one writer at a time.
type Conn interface {
	Send(Frame) error
	Receive() (Frame, error)
	Close() error
}

// streamConn adapts any byte stream to the newline-delimited JSON framing.
type streamConn struct {
	r *bufio.Reader
	w io.Writer
	c io.Closer
}

// NewStreamConn wraps a raw byte stream (pipe, socket) in the frame codec.
// If rw implements io.Closer, Close is forwarded to it.
func NewStreamConn(rw io.ReadWriter) Conn {
	sc := &streamConn{r: bufio.NewReader(rw), w: rw}
	if c, ok := rw.(io.Closer); ok {
		sc.c = c
	}
	return sc
}

func (s *streamConn) Send(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"StreamConn", "Send", "frame write")
	}
	return nil
}

func (s *streamConn) Receive() (Frame, error) {
	line, err := s.r.ReadBytes('\n')
	if err != nil {
		if len(line) == 0 && (err == io.EOF || err == io.ErrClosedPipe) {
			return Frame{}, errors.WrapTransient(errors.ErrTransportClosed, "StreamConn", "Receive", "channel read")
		}
		return Frame{}, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"StreamConn", "Receive", "channel read")
	}
	return DecodeFrame(line)
}

func (s *streamConn) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}
