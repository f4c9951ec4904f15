package packet

import (
	"context"
	"io"
	"sync"
	"time"
)

const (
	// DefaultReplyTimeout is the default time Do waits for a reply.
	DefaultReplyTimeout = time.Second
	// ClientMaxPayload is the largest reply a Client accepts.
	ClientMaxPayload = 0xffff
)

// Client sends payloads to a bridge over a byte stream and waits for
// the replies. The protocol carries no correlation id, so commands are
// serialized and each one takes the next payload received.
type Client struct {
	Timeout time.Duration

	codec   *Codec
	stream  *Stream
	replyCh chan []byte
	lock    sync.Mutex
}

// NewClient creates a client over rw. Run must be running for Do to
// receive replies.
func NewClient(rw io.ReadWriter) *Client {
	c := &Client{
		Timeout: DefaultReplyTimeout,
		replyCh: make(chan []byte, 4),
	}
	var writeLock sync.Mutex
	c.codec = NewCodec(func(frame []byte) {
		writeLock.Lock()
		defer writeLock.Unlock()
		rw.Write(frame)
	}, c.handlePayload)
	c.codec.MaxPayload = ClientMaxPayload
	c.stream = NewStream(rw, c.codec)
	return c
}

// Stream returns the stream feeding replies, to tune it before Run.
func (c *Client) Stream() *Stream {
	return c.stream
}

// Run implements Runnable.
func (c *Client) Run(ctx context.Context) error {
	return c.stream.Run(ctx)
}

// Do sends payload and waits for a reply.
func (c *Client) Do(ctx context.Context, payload []byte) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.drain()
	if err := c.codec.Send(payload); err != nil {
		return nil, err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	select {
	case reply := <-c.replyCh:
		return reply, nil
	case <-time.After(timeout):
		return nil, ErrNoReply
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send sends payload without waiting for a reply.
func (c *Client) Send(payload []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.codec.Send(payload)
}

func (c *Client) handlePayload(payload []byte) {
	select {
	case c.replyCh <- payload:
	default:
		// nobody waiting, drop the oldest.
		select {
		case <-c.replyCh:
		default:
		}
		c.replyCh <- payload
	}
}

func (c *Client) drain() {
	for {
		select {
		case <-c.replyCh:
		default:
			return
		}
	}
}
