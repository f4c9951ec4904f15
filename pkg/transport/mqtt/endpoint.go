package mqtt

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/transport"
)

// PublishTimeout bounds waiting for a reply to be published.
var PublishTimeout = 5 * time.Second

// Endpoint is the session of one bridge on the broker.
type Endpoint struct {
	Queue  *Queue
	ID     string
	Opener transport.SessionOpener
}

// Name implements framework.Named.
func (e *Endpoint) Name() string {
	return "mqtt"
}

// RxTopic is where clients publish stream bytes.
func (e *Endpoint) RxTopic() string {
	return e.ID + "/rx"
}

// TxTopic is where replies are published.
func (e *Endpoint) TxTopic() string {
	return e.ID + "/tx"
}

// Run implements framework.Runnable.
func (e *Endpoint) Run(ctx context.Context) error {
	if token := e.Queue.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer e.Queue.Close()

	session := e.Opener.NewSession("mqtt", "mqtt:"+e.ID, func(frame []byte) {
		token := e.Queue.Pub(e.TxTopic(), frame)
		if !token.WaitTimeout(PublishTimeout) {
			glog.Warningf("mqtt: publish to %s timed out", e.TxTopic())
		} else if err := token.Error(); err != nil {
			glog.Warningf("mqtt: publish to %s: %v", e.TxTopic(), err)
		}
	})
	defer session.Close()

	chunkCh := make(chan []byte, 16)
	sub := e.Queue.Sub(e.RxTopic(), func(_ string, payload []byte) {
		chunk := append([]byte(nil), payload...)
		select {
		case chunkCh <- chunk:
		case <-ctx.Done():
		}
	})
	defer sub.Close()
	glog.Infof("mqtt: serving on %s%s", e.Queue.TopicPrefix, e.RxTopic())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-chunkCh:
			session.Codec.Process(chunk)
		}
	}
}
