package testutil

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// StartJetStream starts an embedded NATS server with JetStream on a random
// port and returns a connected JetStream context plus a cleanup func.
func StartJetStream(t *testing.T) (nats.JetStreamContext, func()) {
	t.Helper()

	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           -1, // random free port
		NoLog:          true,
		NoSigs:         true,
		JetStream:      true,
		StoreDir:       t.TempDir(),
		MaxControlLine: 4096,
	}

	s, err := server.NewServer(opts)
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	cleanup := func() {
		nc.Close()
		s.Shutdown()
	}

	return js, cleanup
}

// FetchAll drains up to max messages currently available on subject through
// an ephemeral pull consumer on the given stream.
func FetchAll(t *testing.T, js nats.JetStreamContext, stream, subject string, max int) [][]byte {
	t.Helper()

	sub, err := js.PullSubscribe(subject, "", nats.BindStream(stream))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msgs, err := sub.Fetch(max, nats.MaxWait(2*time.Second))
	if err == nats.ErrTimeout {
		return nil
	}
	require.NoError(t, err)

	var out [][]byte
	for _, m := range msgs {
		out = append(out, m.Data)
		m.Ack()
	}
	return out
}

// WaitFor polls cond until it returns true or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}
