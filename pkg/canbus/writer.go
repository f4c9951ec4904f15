package canbus

import (
	"context"
	"fmt"
	"time"

	"github.com/brutella/can"
)

// FrameWriter transmits one frame. *can.Bus implements it.
type FrameWriter interface {
	Publish(can.Frame) error
}

// RetryPolicy bounds retransmission when the driver queue is full or
// arbitration keeps failing.
type RetryPolicy struct {
	Attempts int
	Yield    time.Duration
}

// DefaultRetryPolicy is used by a new Adapter.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Yield: time.Millisecond}

// Publish writes frame through w and gives up after Attempts tries.
func (p RetryPolicy) Publish(ctx context.Context, w FrameWriter, frame can.Frame) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for n := 0; n < attempts; n++ {
		if err = w.Publish(frame); err == nil {
			return nil
		}
		if n+1 < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Yield):
			}
		}
	}
	return fmt.Errorf("%w: frame %08x after %d attempts: %v", ErrBusBusy, frame.ID&IDMask, attempts, err)
}

// NewFrame builds an extended data frame. data beyond eight bytes is cut.
func NewFrame(id uint32, data []byte) can.Frame {
	f := can.Frame{ID: id&IDMask | effFlag}
	f.Length = uint8(copy(f.Data[:], data))
	return f
}

// FrameData returns the valid data bytes of f.
func FrameData(f can.Frame) []byte {
	n := int(f.Length)
	if n > can.MaxFrameDataLength {
		n = can.MaxFrameDataLength
	}
	return f.Data[:n]
}
