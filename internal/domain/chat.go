package domain

import "time"

// Chat represents a Telegram group, supergroup or channel where the bot participates.
type Chat struct {
	ChatID     int64     `bson:"chat_id" json:"chat_id"`
	Title      string    `bson:"title" json:"title"`
	Type       string    `bson:"type" json:"type"`
	Members    []int64   `bson:"members" json:"members"`
	JoinedAt   time.Time `bson:"joined_at" json:"joined_at"`
	LastSeenAt time.Time `bson:"last_seen_at" json:"last_seen_at"`
}

// ChatLanguage stores the language selected for a chat.
type ChatLanguage struct {
	ChatID   int64  `bson:"chat_id" json:"chat_id"`
	Language string `bson:"language" json:"language"`
}

// StaffMember grants a bot-wide role to a Telegram user.
type StaffMember struct {
	UserID    int64     `bson:"user_id" json:"user_id"`
	Role      string    `bson:"role" json:"role"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// StatsID is the _id of the single analytics document.
const StatsID = 1

// Stats holds the bot-wide analytics counters.
type Stats struct {
	ID            int   `bson:"_id" json:"id"`
	Received      int64 `bson:"received" json:"received"`
	Processed     int64 `bson:"processed" json:"processed"`
	Downtime      int64 `bson:"downtime" json:"downtime"`
	StartTimeUsec int64 `bson:"start_time_usec" json:"start_time_usec"`
	StopTimeUsec  int64 `bson:"stop_time_usec,omitempty" json:"stop_time_usec,omitempty"`
}
