package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satori/go.uuid"
	"github.com/serialx/hashring"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"alumet/pkg/measurement"
	"alumet/pkg/plugin"
)

// ClientConfig configures the relay output: the set of relay server
// addresses outgoing buffers are sharded across.
type ClientConfig struct {
	Addresses []string
	DialTimeout time.Duration
}

// Client is an Output that forwards every buffer it is handed to a relay
// server chosen by consistent hashing over the buffer's lead resource, so
// all points for the same resource tend to land on the same server
// across calls.
type Client struct {
	cfg       ClientConfig
	sessionID string
	ring      *hashring.HashRing
	log       *logrus.Entry

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewClient dials lazily: no connection is established until the first
// Write call needs it.
func NewClient(cfg ClientConfig, log *logrus.Entry) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("relay: client requires at least one server address")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	sessionID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("relay: generating session id: %w", err)
	}
	return &Client{
		cfg:       cfg,
		sessionID: sessionID.String(),
		ring:      hashring.New(cfg.Addresses),
		log:       log,
		conns:     make(map[string]*grpc.ClientConn),
	}, nil
}

func (c *Client) connFor(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c.conns[addr] = cc
	return cc, nil
}

// shardKey picks the representative key used to choose a relay server:
// the first point's resource kind and identifier, or the empty string for
// an empty buffer.
func shardKey(buf *measurement.Buffer) string {
	points := buf.Points()
	if len(points) == 0 {
		return ""
	}
	id, _ := points[0].Resource.IDString()
	return points[0].Resource.Kind() + ":" + id
}

// Write implements plugin.Output: it encodes buf and forwards it to the
// shard owning its resource key.
func (c *Client) Write(buf *measurement.Buffer, octx *plugin.OutputContext) error {
	if buf.IsEmpty() {
		return nil
	}
	addr, ok := c.ring.GetNode(shardKey(buf))
	if !ok {
		return fmt.Errorf("relay: no server configured")
	}
	cc, err := c.connFor(addr)
	if err != nil {
		return plugin.CanRetry{Err: fmt.Errorf("relay: dialing %s: %w", addr, err)}
	}

	wire, err := EncodeBuffer(c.sessionID, buf, octx.Metrics)
	if err != nil {
		return plugin.Fatal{Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()
	if _, err := forward(ctx, cc, wire); err != nil {
		return plugin.CanRetry{Err: fmt.Errorf("relay: forwarding to %s: %w", addr, err)}
	}
	return nil
}

// Close releases every connection the client has opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, cc := range c.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("relay: closing connection to %s: %w", addr, err)
		}
	}
	c.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
