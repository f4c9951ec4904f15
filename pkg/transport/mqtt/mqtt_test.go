package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/canbridge/pkg/command"
	"github.com/robotalks/canbridge/pkg/packet"
	"github.com/robotalks/canbridge/pkg/transport/transporttest"
)

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

// fakeClient is an in-process broker for one client.
type fakeClient struct {
	paho.Client

	lock      sync.Mutex
	handlers  map[string]paho.MessageHandler
	published chan *fakeMessage
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handlers:  make(map[string]paho.MessageHandler),
		published: make(chan *fakeMessage, 16),
	}
}

func (c *fakeClient) Connect() paho.Token { return &paho.DummyToken{} }
func (c *fakeClient) Disconnect(uint)     {}

func (c *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.lock.Lock()
	c.handlers[topic] = cb
	c.lock.Unlock()
	return &paho.DummyToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb paho.MessageHandler) paho.Token {
	for topic := range filters {
		c.Subscribe(topic, 0, cb)
	}
	return &paho.DummyToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.lock.Lock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	c.lock.Unlock()
	return &paho.DummyToken{}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.published <- &fakeMessage{topic: topic, payload: append([]byte(nil), payload.([]byte)...)}
	return &paho.DummyToken{}
}

func (c *fakeClient) deliver(topic string, payload []byte) bool {
	c.lock.Lock()
	h := c.handlers[topic]
	c.lock.Unlock()
	if h == nil {
		return false
	}
	h(c, &fakeMessage{topic: topic, payload: payload})
	return true
}

func (c *fakeClient) subscribed(topic string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.handlers[topic] != nil
}

func TestEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newFakeClient()
	ep := &Endpoint{
		Queue:  &Queue{Client: client, TopicPrefix: "canbridge/"},
		ID:     "b1",
		Opener: transporttest.NewBridge(ctx),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- ep.Run(ctx) }()
	require.Eventually(t, func() bool { return client.subscribed("canbridge/b1/rx") }, time.Second, time.Millisecond)

	frame, err := packet.Encode([]byte{byte(command.FWVersion)})
	require.NoError(t, err)
	client.deliver("canbridge/b1/rx", frame[:3])
	client.deliver("canbridge/b1/rx", frame[3:])

	select {
	case msg := <-client.published:
		assert.Equal(t, "canbridge/b1/tx", msg.topic)
		expected, err := packet.Encode(transporttest.FirmwareReply())
		require.NoError(t, err)
		assert.Equal(t, expected, msg.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply published")
	}

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.False(t, client.subscribed("canbridge/b1/rx"))
}

func TestQueueSubscriptions(t *testing.T) {
	client := newFakeClient()
	q := &Queue{Client: client, TopicPrefix: "p/"}
	var got []string
	s1 := q.Sub("a", func(topic string, payload []byte) { got = append(got, "1:"+string(payload)) })
	s2 := q.Sub("a", func(topic string, payload []byte) { got = append(got, "2:"+string(payload)) })
	require.True(t, client.deliver("p/a", []byte("x")))
	assert.ElementsMatch(t, []string{"1:x", "2:x"}, got)

	require.NoError(t, s1.Close())
	assert.True(t, client.subscribed("p/a"))
	got = nil
	q.dispatch(client, &fakeMessage{topic: "p/a", payload: []byte("y")})
	q.dispatch(client, &fakeMessage{topic: "other/a", payload: []byte("z")})
	assert.Equal(t, []string{"2:y"}, got)

	require.NoError(t, s2.Close())
	assert.False(t, client.subscribed("p/a"))

	q.Sub("b", func(string, []byte) {})
	client.Unsubscribe("p/b")
	q.onConnect(client)
	assert.True(t, client.subscribed("p/b"))
}

func TestClientOptionsFromURL(t *testing.T) {
	opts, prefix, err := ClientOptionsFromURL("mqtt://user:pw@localhost:1883/canbridge/?client-id=b1")
	require.NoError(t, err)
	assert.Equal(t, "canbridge/", prefix)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, "b1", opts.ClientID)

	_, _, err = ClientOptionsFromURL("mqtt://[::1")
	assert.Error(t, err)
}
