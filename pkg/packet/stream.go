package packet

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// DefaultReadSize is the chunk size used when reading a stream.
const DefaultReadSize = 128

// Stream pumps bytes from Reader into Codec.
type Stream struct {
	Reader io.Reader
	Codec  *Codec
	// ReadTimeout is set when Reader returns periodically without data
	// (e.g. a serial port opened with a read timeout). Empty reads, io.EOF
	// and timeout errors are then treated as idle instead of failures.
	ReadTimeout bool
	// IdleReset drops a partial frame when no byte arrives for this long.
	// Zero disables it.
	IdleReset time.Duration
	ReadSize  int
}

// NewStream creates a Stream.
func NewStream(r io.Reader, codec *Codec) *Stream {
	return &Stream{Reader: r, Codec: codec}
}

// Run processes the stream until ctx is done or the reader fails.
// The codec is only touched from the calling goroutine.
func (s *Stream) Run(ctx context.Context) error {
	chunkCh, errCh := make(chan []byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.readLoop(subCtx, chunkCh, errCh)

	var idleTimer <-chan time.Time
	for {
		select {
		case chunk := <-chunkCh:
			s.Codec.Process(chunk)
			idleTimer = nil
			if s.IdleReset > 0 && !s.Codec.Idle() {
				idleTimer = time.After(s.IdleReset)
			}
		case <-idleTimer:
			idleTimer = nil
			s.Codec.Reset()
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, chunkCh chan []byte, errCh chan error) {
	size := s.ReadSize
	if size <= 0 {
		size = DefaultReadSize
	}
	buf := make([]byte, size)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := s.Reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if s.ReadTimeout && isIdleError(err) {
				continue
			}
			errCh <- err
			return
		}
	}
}

func isIdleError(err error) bool {
	return errors.Is(err, io.EOF) || os.IsTimeout(err)
}
