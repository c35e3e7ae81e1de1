package transport

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/gadgetmesh/errors"
)

// natsConn carries frames over a pair of NATS subjects. Outbound frames are
// published on one subject, inbound frames arrive on a subscription to the
// other; two meshes bridge by crossing their subject pairs. The underlying
// NATS connection is owned by the caller and survives Close.
type natsConn struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	subjectOut string

	msgs chan *nats.Msg
	done chan struct{}
	once sync.Once
}

// NewNATSConn subscribes to inSubject and publishes on outSubject.
func NewNATSConn(nc *nats.Conn, outSubject, inSubject string) (Conn, error) {
	if nc == nil || outSubject == "" || inSubject == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSConn", "NewNATSConn", "argument validation")
	}
	msgs := make(chan *nats.Msg, 128)
	sub, err := nc.ChanSubscribe(inSubject, msgs)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("subscribe %s: %w", inSubject, err),
			"NATSConn", "NewNATSConn", "subject subscription")
	}
	return &natsConn{
		nc:         nc,
		sub:        sub,
		subjectOut: outSubject,
		msgs:       msgs,
		done:       make(chan struct{}),
	}, nil
}

func (c *natsConn) Send(f Frame) error {
	select {
	case <-c.done:
		return errors.WrapTransient(errors.ErrTransportClosed, "NATSConn", "Send", "frame publish")
	default:
	}
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(c.subjectOut, data); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"NATSConn", "Send", "frame publish")
	}
	return nil
}

func (c *natsConn) Receive() (Frame, error) {
	select {
	case msg := <-c.msgs:
		return DecodeFrame(msg.Data)
	case <-c.done:
		return Frame{}, errors.WrapTransient(errors.ErrTransportClosed, "NATSConn", "Receive", "frame read")
	}
}

func (c *natsConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.sub.Unsubscribe()
		close(c.done)
	})
	if err != nil {
		return errors.WrapTransient(err, "NATSConn", "Close", "subscription teardown")
	}
	return nil
}
