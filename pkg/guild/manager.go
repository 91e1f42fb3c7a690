// Package guild covers guild administration from the client: ownership
// checks, rename, leave, and invite handling.
package guild

import (
	"context"
	"errors"
	"fmt"

	"github.com/ndanh/guildchat/pkg/backend"
	"github.com/ndanh/guildchat/pkg/model"
)

var (
	ErrNotLoggedIn    = errors.New("guild: not logged in")
	ErrNotOwner       = errors.New("guild: caller does not own the guild")
	ErrOwnerMustStay  = errors.New("guild: the owner cannot leave")
	ErrInviteExists   = errors.New("guild: an invite for this guild already exists")
	ErrInviteNotFound = errors.New("guild: invite code not recognized")
)

type Manager struct {
	rows     backend.Rows
	sessions backend.Sessions
}

func NewManager(rows backend.Rows, sessions backend.Sessions) *Manager {
	return &Manager{rows: rows, sessions: sessions}
}

func (m *Manager) userID(ctx context.Context) (string, error) {
	s, err := m.sessions.Session(ctx)
	if err != nil {
		return "", err
	}
	if !s.Valid() {
		return "", ErrNotLoggedIn
	}
	return s.UserID, nil
}

// IsOwner reports whether the session user owns the guild.
func (m *Manager) IsOwner(ctx context.Context, guildID int64) (bool, error) {
	uid, err := m.userID(ctx)
	if err != nil {
		return false, err
	}
	var g model.Guild
	if err := m.rows.Single(ctx, "guilds", backend.Where("id", guildID).Select("id,name,owner_id"), &g); err != nil {
		return false, fmt.Errorf("guild: fetch owner of %d: %w", guildID, err)
	}
	return g.OwnerID == uid, nil
}

// Rename changes the guild name. Only the owner may rename.
func (m *Manager) Rename(ctx context.Context, guildID int64, newName string) error {
	owner, err := m.IsOwner(ctx, guildID)
	if err != nil {
		return err
	}
	if !owner {
		return ErrNotOwner
	}
	patch := map[string]any{"name": newName}
	if err := m.rows.Update(ctx, "guilds", patch, backend.Where("id", guildID), nil); err != nil {
		return fmt.Errorf("guild: rename %d: %w", guildID, err)
	}
	return nil
}

// Leave removes the session user's membership. The owner is refused.
func (m *Manager) Leave(ctx context.Context, guildID int64) error {
	uid, err := m.userID(ctx)
	if err != nil {
		return err
	}
	owner, err := m.IsOwner(ctx, guildID)
	if err != nil {
		return err
	}
	if owner {
		return ErrOwnerMustStay
	}
	q := backend.Where("guild_id", guildID).Where("user_id", uid)
	if err := m.rows.Delete(ctx, "guild_members", q); err != nil {
		return fmt.Errorf("guild: leave %d: %w", guildID, err)
	}
	return nil
}

// Invite returns the guild's invite if one exists.
func (m *Manager) Invite(ctx context.Context, guildID int64) (*model.Invite, bool, error) {
	var inv model.Invite
	found, err := m.rows.MaybeSingle(ctx, "guild_invites", backend.Where("guild_id", guildID), &inv)
	if err != nil || !found {
		return nil, false, err
	}
	return &inv, true, nil
}

// CreateInvite mints an invite for the guild. Each guild carries at most
// one invite; creating a second is refused.
func (m *Manager) CreateInvite(ctx context.Context, guildID int64) (*model.Invite, error) {
	if _, exists, err := m.Invite(ctx, guildID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrInviteExists
	}

	var inv model.Invite
	record := map[string]any{"guild_id": guildID}
	if err := m.rows.Insert(ctx, "guild_invites", record, &inv); err != nil {
		return nil, fmt.Errorf("guild: create invite for %d: %w", guildID, err)
	}
	return &inv, nil
}

// Join redeems an invite code: the backend resolves it to a guild id and
// the caller is added as a member.
func (m *Manager) Join(ctx context.Context, inviteCode string) (int64, error) {
	uid, err := m.userID(ctx)
	if err != nil {
		return 0, err
	}

	var guildID int64
	args := map[string]any{"p_invite_code": inviteCode}
	if err := m.rows.RPC(ctx, "get_guild_id", args, &guildID); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInviteNotFound, err)
	}

	member := map[string]any{
		"guild_id":    guildID,
		"user_id":     uid,
		"join_method": inviteCode,
	}
	if err := m.rows.Insert(ctx, "guild_members", member, nil); err != nil {
		return 0, fmt.Errorf("guild: join %d: %w", guildID, err)
	}
	return guildID, nil
}

// Guilds lists the guilds the session user belongs to.
func (m *Manager) Guilds(ctx context.Context) ([]model.Guild, error) {
	uid, err := m.userID(ctx)
	if err != nil {
		return nil, err
	}

	var memberships []model.GuildMember
	if err := m.rows.Select(ctx, "guild_members", backend.Where("user_id", uid), &memberships); err != nil {
		return nil, fmt.Errorf("guild: list memberships: %w", err)
	}

	guilds := make([]model.Guild, 0, len(memberships))
	for _, mem := range memberships {
		var g model.Guild
		if err := m.rows.Single(ctx, "guilds", backend.Where("id", mem.GuildID), &g); err != nil {
			return nil, fmt.Errorf("guild: fetch %d: %w", mem.GuildID, err)
		}
		guilds = append(guilds, g)
	}
	return guilds, nil
}
