// Package testutil starts throwaway NATS servers for package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

// JetStream starts an in-process NATS server with JetStream storing under a
// temp dir. The server and connection are shut down by t.Cleanup.
func JetStream(t *testing.T) (*nats.Conn, jetstream.JetStream) {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		ServerName: "test_server",
		DontListen: true,
		JetStream:  true,
		StoreDir:   t.TempDir(),
	})
	require.NoError(t, err)

	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats server not ready")

	nc, err := nats.Connect(ns.ClientURL(), nats.InProcessServer(ns))
	require.NoError(t, err)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc, js
}

// Context returns a context cancelled when the test ends.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
