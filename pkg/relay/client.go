// Package relay implements the rendezvous switchboard protocol: a
// line-delimited JSON client used by every node, and the broadcast server
// it speaks to.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stars-network/frost-wallet-go/pkg/types"
)

// RetryConfig configures reconnect behavior
type RetryConfig struct {
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default reconnect settings
var DefaultRetryConfig = RetryConfig{
	InitialBackoff:  200 * time.Millisecond,
	MaxBackoff:      10 * time.Second,
	BackoffMultiple: 2.0,
}

// DuplicateIdentityError is surfaced when the server rejects our device
// id because another live connection already registered it. This is
// fatal: reconnecting would keep colliding with the other instance.
type DuplicateIdentityError struct {
	DeviceID string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("device id %s is already registered with the relay", e.DeviceID)
}

const (
	sendQueueSize = 256
	recvQueueSize = 256
	maxLineBytes  = 1 << 20
)

// Client maintains a registered connection to the relay server. It
// reconnects with exponential backoff on transport loss and re-sends the
// registration frame idempotently. Decoded inbound frames are delivered
// on Frames(); a duplicate-identity rejection terminates the client and
// is reported on Fatal().
type Client struct {
	url         string
	deviceID    string
	retryConfig RetryConfig
	logger      *zap.Logger

	sendCh  chan *types.ClientMsg
	recvCh  chan *types.ServerMsg
	fatalCh chan error

	startOnce sync.Once
}

// NewClient creates a relay client for the given device identity
func NewClient(url, deviceID string, logger *zap.Logger) *Client {
	return &Client{
		url:         url,
		deviceID:    deviceID,
		retryConfig: DefaultRetryConfig,
		logger:      logger,
		sendCh:      make(chan *types.ClientMsg, sendQueueSize),
		recvCh:      make(chan *types.ServerMsg, recvQueueSize),
		fatalCh:     make(chan error, 1),
	}
}

// Frames returns the channel of decoded inbound frames
func (c *Client) Frames() <-chan *types.ServerMsg {
	return c.recvCh
}

// Fatal returns the channel reporting unrecoverable client errors
func (c *Client) Fatal() <-chan error {
	return c.fatalCh
}

// Start launches the connection loop. It returns immediately; the loop
// runs until the context is cancelled or a fatal error occurs.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

// Send enqueues a frame for transmission. Frames queue across reconnects;
// Send blocks when the queue is full rather than dropping protocol
// traffic.
func (c *Client) Send(ctx context.Context, msg *types.ClientMsg) error {
	select {
	case c.sendCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendPayload relays an opaque session payload to another device
func (c *Client) SendPayload(ctx context.Context, to string, payload *types.SessionMessage) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal relay payload: %w", err)
	}
	return c.Send(ctx, &types.ClientMsg{Type: types.ClientMsgRelay, To: to, Data: data})
}

// ListDevices requests a fresh device list broadcast
func (c *Client) ListDevices(ctx context.Context) error {
	return c.Send(ctx, &types.ClientMsg{Type: types.ClientMsgListDevices})
}

func (c *Client) run(ctx context.Context) {
	backoff := c.retryConfig.InitialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Sugar().Warnw("Relay connection failed, retrying",
				"url", c.url, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		backoff = c.retryConfig.InitialBackoff
		c.logger.Sugar().Infow("Relay connected", "url", c.url, "device_id", c.deviceID)

		fatal, err := c.serveConn(ctx, conn)
		_ = conn.Close()
		if fatal != nil {
			c.logger.Sugar().Errorw("Relay client terminating", "error", fatal)
			c.fatalCh <- fatal
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.logger.Sugar().Warnw("Relay connection lost, reconnecting", "error", err)
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	addr := strings.TrimPrefix(c.url, "tcp://")
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay %s: %w", addr, err)
	}
	return conn, nil
}

// serveConn registers and pumps frames on one connection. The first
// return value is non-nil only for fatal conditions that must stop the
// client; the second is the transient error that ended the connection.
func (c *Client) serveConn(ctx context.Context, conn net.Conn) (error, error) {
	writer := bufio.NewWriter(conn)
	register := &types.ClientMsg{Type: types.ClientMsgRegister, DeviceID: c.deviceID}
	if err := writeFrame(writer, register); err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}

	readErr := make(chan error, 1)
	fatalErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg types.ServerMsg
			if err := json.Unmarshal(line, &msg); err != nil {
				c.logger.Sugar().Warnw("Dropping malformed relay frame", "error", err)
				continue
			}
			if msg.Type == types.ServerMsgError && strings.Contains(msg.Error, "already registered") {
				fatalErr <- &DuplicateIdentityError{DeviceID: c.deviceID}
				return
			}
			select {
			case c.recvCh <- &msg:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- fmt.Errorf("relay closed the connection")
	}()

	for {
		select {
		case msg := <-c.sendCh:
			if err := writeFrame(writer, msg); err != nil {
				return nil, err
			}
		case err := <-readErr:
			return nil, err
		case err := <-fatalErr:
			return err, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) nextBackoff(backoff time.Duration) time.Duration {
	next := time.Duration(float64(backoff) * c.retryConfig.BackoffMultiple)
	if next > c.retryConfig.MaxBackoff {
		next = c.retryConfig.MaxBackoff
	}
	return next
}

func writeFrame(w *bufio.Writer, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write frame terminator: %w", err)
	}
	return w.Flush()
}
