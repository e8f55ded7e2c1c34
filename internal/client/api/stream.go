package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/iudanet/woodtime/pkg/api"
)

const streamPath = "/graphql/stream"

// streamURL переводит http(s) адрес сервера в ws(s)
func (c *Client) streamURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + streamPath
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + streamPath
	default:
		return c.baseURL + streamPath
	}
}

// Listen connects to the change stream and calls fn for every notification
// until ctx is done or the connection drops. It returns nil when ctx is canceled.
func (c *Client) Listen(ctx context.Context, fn func(api.ChangeNotification)) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthenticated
		}
		return fmt.Errorf("failed to connect change stream: %w", err)
	}

	// закрываем соединение при отмене контекста, чтобы разблокировать ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("change stream closed: %w", err)
		}

		var note api.ChangeNotification
		if err := json.Unmarshal(data, &note); err != nil {
			continue
		}
		if note.Collection == "" {
			continue
		}
		fn(note)
	}
}

// IsUnauthenticated reports whether err means the access token was rejected.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}
