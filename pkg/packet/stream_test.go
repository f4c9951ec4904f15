package packet

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runStream(t *testing.T, s *Stream) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, errCh
}

func expectPayload(t *testing.T, ch <-chan []byte, expect []byte) {
	select {
	case payload := <-ch:
		require.Equal(t, expect, payload)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expect payload timeout")
	}
}

func TestStreamDeliversPayloads(t *testing.T) {
	r, w := io.Pipe()
	payloadCh := make(chan []byte, 4)
	codec := NewCodec(nil, func(p []byte) { payloadCh <- p })
	runStream(t, NewStream(r, codec))

	for _, p := range [][]byte{{0x04}, {0x22, 0x05, 0x04, 1, 2, 3}, {}} {
		frame, err := Encode(p)
		require.NoError(t, err)
		_, err = w.Write(frame)
		require.NoError(t, err)
		expectPayload(t, payloadCh, p)
	}
}

func TestStreamReaderError(t *testing.T) {
	r, w := io.Pipe()
	_, errCh := runStream(t, NewStream(r, NewCodec(nil, nil)))
	w.CloseWithError(io.ErrUnexpectedEOF)
	select {
	case err := <-errCh:
		require.Equal(t, io.ErrUnexpectedEOF, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("stream did not stop")
	}
}

func TestStreamCancel(t *testing.T) {
	r, _ := io.Pipe()
	cancel, errCh := runStream(t, NewStream(r, NewCodec(nil, nil)))
	cancel()
	select {
	case err := <-errCh:
		require.Equal(t, context.Canceled, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("stream did not stop")
	}
}

func TestStreamIdleReset(t *testing.T) {
	r, w := io.Pipe()
	payloadCh := make(chan []byte, 4)
	codec := NewCodec(nil, func(p []byte) { payloadCh <- p })
	s := NewStream(r, codec)
	s.IdleReset = 10 * time.Millisecond
	runStream(t, s)

	_, err := w.Write([]byte{0x02, 0x05, 0x01, 0x02})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	frame, err := Encode([]byte{0x09, 0x08, 0x07})
	require.NoError(t, err)
	_, err = w.Write(frame)
	require.NoError(t, err)
	expectPayload(t, payloadCh, []byte{0x09, 0x08, 0x07})
}

type timeoutReader struct {
	reads chan []byte
}

func (r *timeoutReader) Read(p []byte) (int, error) {
	select {
	case data := <-r.reads:
		return copy(p, data), nil
	case <-time.After(5 * time.Millisecond):
		return 0, io.EOF
	}
}

func TestStreamReadTimeout(t *testing.T) {
	reader := &timeoutReader{reads: make(chan []byte)}
	payloadCh := make(chan []byte, 1)
	s := NewStream(reader, NewCodec(nil, func(p []byte) { payloadCh <- p }))
	s.ReadTimeout = true
	runStream(t, s)

	time.Sleep(20 * time.Millisecond)
	frame, err := Encode([]byte{0x00})
	require.NoError(t, err)
	reader.reads <- frame
	expectPayload(t, payloadCh, []byte{0x00})
}

func TestClientDo(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var server *Codec
	server = NewCodec(func(frame []byte) {
		serverConn.Write(frame)
	}, func(p []byte) {
		go server.Send(append([]byte{0xff}, p...))
	})
	runStream(t, NewStream(serverConn, server))

	client := NewClient(clientConn)
	runStream(t, client.stream)

	reply, err := client.Do(context.Background(), []byte{0x00, 0x01})
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0x00, 0x01}, reply)

	reply, err = client.Do(context.Background(), []byte{0x22})
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0x22}, reply)
}

func TestClientNoReply(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()
	go io.Copy(io.Discard, serverConn)

	client := NewClient(clientConn)
	client.Timeout = 20 * time.Millisecond
	runStream(t, client.stream)

	_, err := client.Do(context.Background(), []byte{0x00})
	require.Equal(t, ErrNoReply, err)
}
