package remote

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ChangeNotice is the message the endpoint broadcasts after each write.
type ChangeNotice struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// WatchURL is the websocket address paired with the catalog endpoint.
func (c *HTTPClient) WatchURL() string {
	u := c.Endpoint() + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Watch subscribes to change notices and calls onChange for each one. It
// reconnects with backoff until ctx is done and only returns then.
func (c *HTTPClient) Watch(ctx context.Context, onChange func(ChangeNotice)) error {
	attempt := 0
	for {
		connected, err := c.watchOnce(ctx, onChange)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		attempt++
		delay := c.retryDelay(attempt, "")
		if attempt > c.maxRetries {
			delay = c.maxDelay
		}
		c.logger.Debug("catalog watch disconnected", zap.String("url", c.WatchURL()), zap.Duration("retry_in", delay), zap.Error(err))
		if err := waitWithContext(ctx, delay); err != nil {
			return err
		}
	}
}

func (c *HTTPClient) watchOnce(ctx context.Context, onChange func(ChangeNotice)) (bool, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	conn, _, err := websocket.Dial(dialCtx, c.WatchURL(), &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: header,
	})
	cancel()
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	c.logger.Info("catalog watch connected", zap.String("url", c.WatchURL()))

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		if typ != websocket.MessageText {
			continue
		}
		var notice ChangeNotice
		if err := json.Unmarshal(data, &notice); err != nil {
			c.logger.Debug("ignoring catalog watch message", zap.ByteString("message", data), zap.Error(err))
			continue
		}
		onChange(notice)
	}
}
