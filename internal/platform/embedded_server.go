package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EmbeddedServerConfig holds options for the embedded NATS server that
// carries console commands, console events and the profile bucket.
type EmbeddedServerConfig struct {
	InProcess       bool
	EnableLogging   bool
	JetStream       bool
	JetStreamDomain string
	LeafNodeURL     string // empty disables leaf node
	LeafNodeCreds   string // optional, only used if LeafNodeURL is set
	StoreDir        string // JetStream file storage; "~/" is expanded
}

const brokerReadyTimeout = 5 * time.Second

// Broker is the embedded NATS server plus the app's client connection.
type Broker struct {
	Conn *nats.Conn

	ns     *server.Server
	errs   chan error
	logger *slog.Logger
}

// StartBroker prepares the store dir, starts the server and connects to it.
// Errors() reports the first fatal problem, or ctx's error once ctx ends.
func StartBroker(ctx context.Context, cfg EmbeddedServerConfig) (*Broker, error) {
	logger := slog.Default().With("component", "broker")

	opts := &server.Options{
		ServerName:      "scripthub",
		NoSigs:          true,
		DontListen:      cfg.InProcess,
		JetStream:       cfg.JetStream,
		JetStreamDomain: cfg.JetStreamDomain,
	}
	if cfg.JetStream {
		dir, err := prepareStoreDir(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		opts.StoreDir = dir
	}
	if cfg.LeafNodeURL != "" {
		remote, err := leafRemote(cfg.LeafNodeURL, cfg.LeafNodeCreds)
		if err != nil {
			return nil, err
		}
		opts.LeafNode = server.LeafNodeOpts{Remotes: []*server.RemoteLeafOpts{remote}}
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("configure nats server: %w", err)
	}
	if cfg.EnableLogging {
		ns.SetLogger(NewNATSServerLogger(slog.Default()), false, false)
	}
	go ns.Start()
	if !ns.ReadyForConnections(brokerReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", brokerReadyTimeout)
	}
	if cfg.JetStream && !ns.JetStreamEnabled() {
		ns.Shutdown()
		return nil, errors.New("nats server started without JetStream")
	}

	b := &Broker{ns: ns, errs: make(chan error, 1), logger: logger}

	clientOpts := []nats.Option{
		nats.Name("scripthub"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS connection lost", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			if ctx.Err() == nil {
				b.report(errors.New("nats connection closed"))
			}
		}),
	}
	if cfg.InProcess {
		clientOpts = append(clientOpts, nats.InProcessServer(ns))
	}
	nc, err := nats.Connect(ns.ClientURL(), clientOpts...)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats: %w", err)
	}
	b.Conn = nc

	logger.Info("NATS ready",
		"in_process", cfg.InProcess,
		"jetstream", cfg.JetStream,
		"store_dir", opts.StoreDir,
		"domain", cfg.JetStreamDomain,
		"leaf", cfg.LeafNodeURL != "")

	go func() {
		<-ctx.Done()
		b.report(ctx.Err())
	}()
	return b, nil
}

// Errors delivers at most one error.
func (b *Broker) Errors() <-chan error { return b.errs }

func (b *Broker) report(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

// Close flushes pending publishes, closes the connection and shuts the
// server down.
func (b *Broker) Close() {
	if err := b.Conn.FlushTimeout(time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		b.logger.Warn("NATS flush failed", "err", err)
	}
	b.Conn.Close()
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
	b.logger.Info("NATS stopped")
}

// prepareStoreDir expands a leading "~/" and creates the directory.
func prepareStoreDir(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("jetstream needs a store dir")
	}
	if rest, ok := strings.CutPrefix(dir, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand store dir: %w", err)
		}
		dir = filepath.Join(home, rest)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("store dir %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create store dir: %w", err)
	}
	return abs, nil
}

func leafRemote(rawURL, creds string) (*server.RemoteLeafOpts, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("leaf node url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("leaf node url %q has no host", rawURL)
	}
	return &server.RemoteLeafOpts{URLs: []*url.URL{u}, Credentials: creds}, nil
}
