// Package discord delivers messages to a Discord channel or thread.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageLen is Discord's hard per-message character limit; size the
// delivery sink at or below this.
const MaxMessageLen = 2000

// Channel posts to one Discord channel or thread.
type Channel struct {
	session   *discordgo.Session
	channelID string
}

// NewChannel wraps an open session for the given channel or thread id.
func NewChannel(session *discordgo.Session, channelID string) *Channel {
	return &Channel{session: session, channelID: channelID}
}

// CreateMessage posts a new message and returns its id.
func (c *Channel) CreateMessage(ctx context.Context, content string) (string, error) {
	msg, err := c.session.ChannelMessageSend(c.channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send to channel %s: %w", c.channelID, err)
	}
	return msg.ID, nil
}

// EditMessage replaces the content of an existing message.
func (c *Channel) EditMessage(ctx context.Context, handle, content string) error {
	if _, err := c.session.ChannelMessageEdit(c.channelID, handle, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message %s: %w", handle, err)
	}
	return nil
}
