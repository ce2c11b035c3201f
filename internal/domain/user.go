package domain

import "time"

// User represents a Telegram user the bot has seen.
type User struct {
	UserID     int64     `bson:"user_id" json:"user_id"`
	Username   string    `bson:"username,omitempty" json:"username,omitempty"`
	Name       string    `bson:"name,omitempty" json:"name,omitempty"`
	Chats      []int64   `bson:"chats" json:"chats"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
	LastSeenAt time.Time `bson:"last_seen_at" json:"last_seen_at"`
}
