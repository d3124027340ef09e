// Package ws delivers messages over a WebSocket connection as JSON
// create/edit operations, for callers that render the conversation in
// their own UI.
package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// frame is one delivery operation on the wire.
type frame struct {
	Op      string `json:"op"` // "create" or "edit"
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Channel writes delivery operations to a single WebSocket connection.
// Writes are serialized; gorilla connections allow one concurrent writer.
type Channel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewChannel wraps an established connection.
func NewChannel(conn *websocket.Conn) *Channel {
	return &Channel{conn: conn}
}

// CreateMessage sends a create frame and returns its generated id.
func (c *Channel) CreateMessage(ctx context.Context, content string) (string, error) {
	id := uuid.New().String()
	if err := c.write(ctx, frame{Op: "create", ID: id, Content: content}); err != nil {
		return "", err
	}
	return id, nil
}

// EditMessage sends an edit frame for a previously created id.
func (c *Channel) EditMessage(ctx context.Context, handle, content string) error {
	return c.write(ctx, frame{Op: "edit", ID: handle, Content: content})
}

func (c *Channel) write(ctx context.Context, f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Op, err)
	}
	return nil
}
