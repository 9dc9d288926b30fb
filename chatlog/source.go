package chatlog

import (
	"context"

	"github.com/poiesic/chatvec/core"
)

// Source is the read side of the chat-log API the sync pipeline depends on.
// Implementations must be safe for concurrent use.
type Source interface {
	// Count returns how many records the talker has within timeRange.
	Count(ctx context.Context, talker, timeRange string) (int, error)

	// FetchPage returns up to limit records starting at offset.
	FetchPage(ctx context.Context, talker, timeRange string, limit, offset int) ([]core.ChatRecord, error)

	// LookupTalker resolves the display name and members of a talker.
	// Returns ErrTalkerNotFound when the talker is unknown.
	LookupTalker(ctx context.Context, talker string) (*Room, error)
}

// Member is one participant of a chat room.
type Member struct {
	UserName    string `json:"userName"`
	DisplayName string `json:"displayName"`
}

// Room describes a conversation: a chat room or a single contact.
type Room struct {
	Name     string   `json:"name"`
	Owner    string   `json:"owner"`
	Remark   string   `json:"remark"`
	NickName string   `json:"nickName"`
	Users    []Member `json:"users"`
}

// DisplayName picks the most human-friendly name available.
func (r *Room) DisplayName() string {
	switch {
	case r.Remark != "":
		return r.Remark
	case r.NickName != "":
		return r.NickName
	default:
		return r.Name
	}
}
