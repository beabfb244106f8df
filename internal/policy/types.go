package policy

import (
	"context"
	"strings"
)

// Decision classifies an inbound message. Computed fresh per message, never
// stored.
type Decision string

const (
	DecisionIgnore        Decision = "ignore"
	DecisionRejectVideo   Decision = "reject_video"
	DecisionRejectAudio   Decision = "reject_audio"
	DecisionRejectNoMedia Decision = "reject_no_media"
	DecisionDenyRole      Decision = "deny_role"
	DecisionAccept        Decision = "accept"
	// DecisionDirect routes the message through the direct-message branch.
	DecisionDirect Decision = "direct"
)

// Attachment carries the platform-declared metadata of one attachment. The
// declared content type is untrusted; the uploader re-checks byte signatures.
type Attachment struct {
	ID          string
	URL         string
	Name        string
	ContentType string
	Size        int64
}

// Message is the channel-agnostic view of one inbound chat message.
type Message struct {
	ID         string
	ChannelID  string
	GuildID    string
	AuthorID   string
	AuthorName string
	FromBot    bool
	// RoleIDs lists the author's guild role memberships.
	RoleIDs     []string
	Attachments []Attachment
}

// ChatSession abstracts the platform operations the engine needs, so the
// engine is testable without a live gateway connection.
type ChatSession interface {
	SendMessage(channelID, content string) error
	Reply(channelID, messageID, content string) error
	DeleteMessage(channelID, messageID string) error
	React(channelID, messageID, emoji string) error
	RemoveAllReactions(channelID, messageID string) error
}

// Uploader runs the per-attachment upload pipeline.
type Uploader interface {
	Upload(ctx context.Context, fileURL, fileName string) (string, error)
	UploadDirect(ctx context.Context, fileURL, fileName string) (string, error)
}

// Capabilities parameterizes the engine. Empty allow-lists follow the same
// conventions as the configuration: no channels means all channels, no roles
// means no restriction, no DM users means DMs are closed.
type Capabilities struct {
	Channels  []string
	Roles     []string
	DMUsers   []string
	VideoInDM bool
}

func (a Attachment) isImage() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
}

func (a Attachment) isVideo() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "video/")
}

func (a Attachment) isAudio() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "audio/")
}
