package model

import "time"

type ChannelType string

const (
	ChannelText  ChannelType = "GUILD_TEXT"
	ChannelVoice ChannelType = "GUILD_VOICE"
)

type Guild struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

type Channel struct {
	ID      int64       `json:"id"`
	GuildID int64       `json:"guild_id"`
	Name    string      `json:"name"`
	Type    ChannelType `json:"type"`
}

type GuildMember struct {
	GuildID    int64  `json:"guild_id"`
	UserID     string `json:"user_id"`
	JoinMethod string `json:"join_method,omitempty"`
}

type Invite struct {
	ID        string    `json:"id"`
	GuildID   int64     `json:"guild_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is a row in the profiles table; nickname and avatar are optional.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_URL"`
}

// DisplayName prefers the nickname, falls back to email, then "Unknown".
func (p *Profile) DisplayName() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	if p.Email != "" {
		return p.Email
	}
	return "Unknown"
}
