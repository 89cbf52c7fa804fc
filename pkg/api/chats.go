package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"chatsync/pkg/protocol"
)

const chatsPath = "/api/chats"

// Profile is the optional profile block attached to users.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`
}

// User is a user as returned by profile and friend endpoints. Friend
// listings carry the avatar at the top level, profile lookups nest it.
type User struct {
	ID       int64    `json:"id"`
	UserID   int64    `json:"user_id,omitempty"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Avatar   string   `json:"avatar,omitempty"`
	Profile  *Profile `json:"profile,omitempty"`
}

// AvatarURL returns the top-level avatar or the profile avatar.
func (u User) AvatarURL() string {
	if u.Avatar != "" {
		return u.Avatar
	}
	if u.Profile != nil {
		return u.Profile.Avatar
	}
	return ""
}

// Identity returns the id field the endpoint populated.
func (u User) Identity() int64 {
	if u.ID != 0 {
		return u.ID
	}
	return u.UserID
}

// roomID accepts the room id as either a JSON number or string.
type roomID string

func (r *roomID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*r = roomID(value)
		return nil
	}

	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("room_id: %w", err)
	}
	*r = roomID(number.String())
	return nil
}

type chatItem struct {
	RoomID          roomID  `json:"room_id"`
	Recipient       User    `json:"recipient"`
	LastMessage     *string `json:"last_message"`
	LastMessageTime *string `json:"last_message_time"`
}

// ListChats fetches the chat list in server order, most recent first.
func (c *Client) ListChats(ctx context.Context) ([]protocol.ChatListUpdate, error) {
	var items []chatItem
	if err := c.getJSON(ctx, chatsPath, nil, &items); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	chats := make([]protocol.ChatListUpdate, 0, len(items))
	for _, item := range items {
		summary := protocol.ChatListUpdate{
			RoomID: string(item.RoomID),
			Recipient: protocol.Recipient{
				ID:       item.Recipient.Identity(),
				Username: item.Recipient.Username,
				Avatar:   item.Recipient.AvatarURL(),
			},
		}
		if item.LastMessage != nil {
			summary.LastMessage = *item.LastMessage
		}
		if item.LastMessageTime != nil {
			summary.LastMessageAt = protocol.ParseTimestamp(*item.LastMessageTime)
		}
		chats = append(chats, summary)
	}

	return chats, nil
}
