package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements the subset of mqtt.Client the transport uses.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connectErrs  []error
	connects     int
	publishErr   error
	publishes    []publishCall
	connected    bool
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.connects < len(c.connectErrs) {
		err = c.connectErrs[c.connects]
	}
	c.connects++
	c.connected = err == nil
	return &fakeToken{err: err}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func withFakeClient(t *testing.T, fc *fakeClient) {
	t.Helper()
	orig := newClient
	newClient = func(*mqtt.ClientOptions) mqtt.Client { return fc }
	t.Cleanup(func() { newClient = orig })
}

func fastBackoff(retries int) BackoffConfig {
	return BackoffConfig{MaxRetries: retries, RetryDelay: time.Millisecond, MaxRetryDelay: 2 * time.Millisecond}
}

func TestDial_PublishAndClose(t *testing.T) {
	fc := &fakeClient{}
	withFakeClient(t, fc)

	tr, err := Dial(context.Background(), Config{Host: "broker", QoS: 1, Backoff: fastBackoff(0)})
	require.NoError(t, err)
	assert.True(t, tr.Connected())

	require.NoError(t, tr.Publish("person", []byte(`{"count":1}`)))
	require.NoError(t, tr.Publish("person", []byte(`{"count":2}`)))
	require.NoError(t, tr.Publish("person/duration", []byte(`{"duration":4}`)))

	require.Len(t, fc.publishes, 3)
	assert.Equal(t, "person", fc.publishes[0].topic)
	assert.Equal(t, byte(1), fc.publishes[0].qos)
	assert.Equal(t, `{"duration":4}`, string(fc.publishes[2].payload))

	stats := tr.Stats()
	assert.Equal(t, map[string]uint64{"person": 2, "person/duration": 1}, stats.Published)
	assert.Zero(t, stats.Errors)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, fc.disconnected)
	assert.False(t, tr.Connected())
}

func TestDial_RetriesThenConnects(t *testing.T) {
	fc := &fakeClient{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	withFakeClient(t, fc)

	tr, err := Dial(context.Background(), Config{Backoff: fastBackoff(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, fc.connects)
	assert.True(t, tr.Connected())
}

func TestDial_GivesUp(t *testing.T) {
	fc := &fakeClient{connectErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	withFakeClient(t, fc)

	_, err := Dial(context.Background(), Config{Host: "10.0.0.9", Port: 1883, Backoff: fastBackoff(2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tcp://10.0.0.9:1883")
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, fc.connects)
}

func TestDial_Cancelled(t *testing.T) {
	fc := &fakeClient{connectErrs: []error{errors.New("refused")}}
	withFakeClient(t, fc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dial(ctx, Config{Backoff: fastBackoff(5)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPublish_Failures(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		fc := &fakeClient{}
		withFakeClient(t, fc)
		tr, err := Dial(context.Background(), Config{Backoff: fastBackoff(0)})
		require.NoError(t, err)

		tr.connected.Store(false)
		require.ErrorIs(t, tr.Publish("person", []byte("{}")), ErrNotConnected)
		assert.Empty(t, fc.publishes)
		assert.Equal(t, uint64(1), tr.Stats().Errors)
	})

	t.Run("broker error", func(t *testing.T) {
		fc := &fakeClient{publishErr: errors.New("boom")}
		withFakeClient(t, fc)
		tr, err := Dial(context.Background(), Config{Backoff: fastBackoff(0)})
		require.NoError(t, err)

		err = tr.Publish("person", []byte("{}"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "person")
		assert.Equal(t, uint64(1), tr.Stats().Errors)
		assert.Empty(t, tr.Stats().Published)
	})
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, "tcp://localhost:3001", cfg.Broker())
	assert.Equal(t, 60*time.Second, cfg.KeepAlive)
	assert.Contains(t, cfg.ClientID, "people-counter-")
	assert.Equal(t, DefaultBackoffConfig(), cfg.Backoff)
}

func TestLogTransport(t *testing.T) {
	l := NewLog()
	require.NoError(t, l.Publish("person", []byte(`{"count":0}`)))
	require.NoError(t, l.Publish("person", []byte(`{"count":1}`)))

	stats := l.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, uint64(2), stats.Published["person"])
}
