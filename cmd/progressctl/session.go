package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"progresshub/internal/connector"
	"progresshub/pkg/contracts/events"
)

// errServerError wraps error replies from the server
var errServerError = errors.New("server error")

// connect starts a connector and blocks until the first connection is up.
// The caller owns the returned connector and must Stop it.
func (o *options) connect(ctx context.Context) (*connector.Connector, error) {
	c := connector.New(connector.ConfigFrom(o.cfg.Client), o.logger)
	if err := startAndWait(ctx, c, o.cfg.Client.URL, o.timeout); err != nil {
		return nil, err
	}
	return c, nil
}

// startAndWait starts c and waits up to timeout for it to connect. c is
// stopped again when it does not.
func startAndWait(ctx context.Context, c *connector.Connector, url string, timeout time.Duration) error {
	connected := make(chan struct{}, 1)
	sub := c.OnConnectionStatus(func(s connector.ConnectionStatus) {
		if s.Status == events.ConnectionStateConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	defer c.RemoveCallback(sub)

	if err := c.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-connected:
		return nil
	case <-c.Done():
		_ = c.Stop()
		return fmt.Errorf("could not connect to %s", url)
	case <-ctx.Done():
		_ = c.Stop()
		return fmt.Errorf("could not connect to %s: %w", url, ctx.Err())
	}
}

// waitSettled polls the mirror until want operations are known and none is
// active, or timeout passes
func waitSettled(ctx context.Context, c *connector.Connector, want int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(c.Operations()) >= want && len(c.ActiveOperations()) == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// await subscribes with on, calls send and waits for the first value accepted
// by match. An error reply from the server ends the wait.
func await[T any](ctx context.Context, c *connector.Connector, timeout time.Duration, on func(func(T)) connector.Subscription, send func() error, match func(T) bool) (T, error) {
	var zero T

	replies := make(chan T, 1)
	sub := on(func(v T) {
		if match != nil && !match(v) {
			return
		}
		select {
		case replies <- v:
		default:
		}
	})
	defer c.RemoveCallback(sub)

	failures := make(chan *events.ErrorMessage, 1)
	errSub := c.OnError(func(m *events.ErrorMessage) {
		select {
		case failures <- m:
		default:
		}
	})
	defer c.RemoveCallback(errSub)

	if err := send(); err != nil {
		return zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case v := <-replies:
		return v, nil
	case m := <-failures:
		return zero, fmt.Errorf("%w: %s", errServerError, m.Message)
	case <-ctx.Done():
		return zero, fmt.Errorf("no reply from server: %w", ctx.Err())
	}
}
