//go:build integration

package mqtt

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqttlink/internal/connection"
)

// Integration tests against a live broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

const integrationBroker = "tcp://127.0.0.1:1883"

func integrationManager(t *testing.T, clientID string, handler connection.MessageHandler) *connection.Manager {
	t.Helper()

	opts := connection.DefaultOptions()
	opts.ClientID = clientID
	opts.ConnectTimeout = 5 * time.Second

	m, err := connection.New(integrationBroker, opts, NewDialer(nil), handler)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func waitForState(t *testing.T, m *connection.Manager, want connection.State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		10*time.Second, 20*time.Millisecond, "state %s not reached (last error: %v)", want, m.LastError())
}

// TestIntegration_MessageRoundtrip verifies pub/sub works end-to-end through two managers.
func TestIntegration_MessageRoundtrip(t *testing.T) {
	topic := fmt.Sprintf("mqttlink/int/roundtrip/%d", time.Now().UnixNano())
	expected := "test-message-12345"

	received := make(chan string, 1)
	var once sync.Once
	sub := integrationManager(t, "mqttlink-int-sub", func(_ string, payload []byte, _ connection.Message) {
		once.Do(func() { received <- string(payload) })
	})
	sub.SubscribeFilters(map[string]connection.SubscribeOptions{topic: {QoS: 1}})
	sub.Connect()
	waitForState(t, sub, connection.StateConnected)

	pub := integrationManager(t, "mqttlink-int-pub", nil)
	pub.Connect()
	waitForState(t, pub, connection.StateConnected)

	// allow the replayed SUBSCRIBE to be acknowledged
	time.Sleep(200 * time.Millisecond)
	pub.Publish(topic, []byte(expected), 1)

	select {
	case msg := <-received:
		assert.Equal(t, expected, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	assert.NoError(t, pub.LastError())
}

// TestIntegration_ReconnectAfterSessionTakeover forces the broker to drop the
// first session by connecting a second client with the same ID, then checks
// the manager reconnects and replays its subscriptions.
func TestIntegration_ReconnectAfterSessionTakeover(t *testing.T) {
	const clientID = "mqttlink-int-takeover"
	topic := fmt.Sprintf("mqttlink/int/takeover/%d", time.Now().UnixNano())

	received := make(chan string, 4)
	m := integrationManager(t, clientID, func(_ string, payload []byte, _ connection.Message) {
		received <- string(payload)
	})
	m.Subscribe(topic)
	m.Connect()
	waitForState(t, m, connection.StateConnected)

	intruder := integrationManager(t, clientID, nil)
	intruder.Connect()
	waitForState(t, intruder, connection.StateConnected)
	intruder.Close()

	// the broker dropped m; it reconnects after the base delay
	waitForState(t, m, connection.StateConnected)
	assert.Equal(t, []string{topic}, m.Subscriptions())

	pub := integrationManager(t, "mqttlink-int-takeover-pub", nil)
	pub.Connect()
	waitForState(t, pub, connection.StateConnected)
	time.Sleep(200 * time.Millisecond)
	pub.Publish(topic, []byte("after-reconnect"), 1)

	select {
	case msg := <-received:
		assert.Equal(t, "after-reconnect", msg)
	case <-time.After(15 * time.Second):
		t.Fatal("subscription was not replayed after reconnect")
	}
}
