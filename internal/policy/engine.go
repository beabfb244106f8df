// Package policy decides what happens to each inbound message: ignore,
// reject with a notice, or run the attachment upload pipeline and rewrite
// the channel with the result.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relaybot/relaybot/internal/uploader"
)

const (
	processingEmoji = "⏳"
	failureEmoji    = "❌"

	maxDirectUploadBytes = 10 << 20
)

// Engine applies the media-only policy. One instance handles both guild and
// direct-message traffic, parameterized by its capability set.
type Engine struct {
	logger   *slog.Logger
	uploader Uploader

	channels  map[string]struct{}
	roles     map[string]struct{}
	dmUsers   map[string]struct{}
	videoInDM bool
}

func NewEngine(log *slog.Logger, caps Capabilities, up Uploader) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		logger:    log.With(slog.String("service", "policy")),
		uploader:  up,
		channels:  toSet(caps.Channels),
		roles:     toSet(caps.Roles),
		dmUsers:   toSet(caps.DMUsers),
		videoInDM: caps.VideoInDM,
	}
}

// Decide classifies msg without side effects.
func (e *Engine) Decide(msg Message) Decision {
	if msg.FromBot {
		return DecisionIgnore
	}
	if msg.GuildID == "" {
		return DecisionDirect
	}
	if len(e.channels) > 0 {
		if _, ok := e.channels[msg.ChannelID]; !ok {
			return DecisionIgnore
		}
	}

	var images, videos, audios int
	for _, att := range msg.Attachments {
		switch {
		case att.isImage():
			images++
		case att.isVideo():
			videos++
		case att.isAudio():
			audios++
		}
	}
	if videos > 0 {
		return DecisionRejectVideo
	}
	if audios > 0 {
		return DecisionRejectAudio
	}
	if images == 0 {
		return DecisionRejectNoMedia
	}

	if len(e.roles) > 0 && !e.hasAllowedRole(msg.RoleIDs) {
		return DecisionDenyRole
	}
	return DecisionAccept
}

// HandleMessage runs the full per-message flow. It is the only layer that
// talks to the user and always leaves the channel consistent: reactions
// cleared, message either deleted with a notice or left intact with a
// failure marker.
func (e *Engine) HandleMessage(ctx context.Context, session ChatSession, msg Message) {
	decision := e.Decide(msg)
	e.logger.Debug("message decision",
		slog.String("message_id", msg.ID),
		slog.String("decision", string(decision)),
	)

	switch decision {
	case DecisionIgnore:
	case DecisionRejectVideo:
		e.deleteWithNotice(session, msg,
			fmt.Sprintf("❌ **Video uploads are not allowed!** (%s)\nOnly photos and GIFs are accepted here.", msg.AuthorName))
	case DecisionRejectAudio:
		e.deleteWithNotice(session, msg,
			fmt.Sprintf("❌ **Audio uploads are not allowed!** (%s)\nThe image host only accepts photos and GIFs.", msg.AuthorName))
	case DecisionRejectNoMedia:
		e.deleteWithNotice(session, msg,
			fmt.Sprintf("**This channel is for photos and GIFs only, no chatting.** (%s)", msg.AuthorName))
	case DecisionDenyRole:
		e.reactAndReply(session, msg, "❌ You do not have permission to upload media here.")
	case DecisionDirect:
		e.handleDirect(ctx, session, msg)
	case DecisionAccept:
		e.handleAccepted(ctx, session, msg)
	}
}

func (e *Engine) handleAccepted(ctx context.Context, session ChatSession, msg Message) {
	if err := session.React(msg.ChannelID, msg.ID, processingEmoji); err != nil {
		e.logger.Warn("processing reaction failed", slog.Any("error", err))
	}

	var urls []string
	var failed error
	for _, att := range msg.Attachments {
		if !att.isImage() {
			continue
		}
		e.logger.Info("uploading attachment",
			slog.String("message_id", msg.ID),
			slog.String("file", att.Name),
		)
		url, err := e.uploader.Upload(ctx, att.URL, att.Name)
		if err != nil {
			failed = err
			break
		}
		urls = append(urls, url)
	}

	if err := session.RemoveAllReactions(msg.ChannelID, msg.ID); err != nil {
		e.logger.Warn("clear reactions failed", slog.Any("error", err))
	}

	if failed != nil {
		e.logger.Error("upload pipeline failed",
			slog.String("message_id", msg.ID),
			slog.Any("error", failed),
		)
		if errors.Is(failed, uploader.ErrVideoDetected) {
			e.deleteWithNotice(session, msg,
				fmt.Sprintf("❌ **Disguised video detected!** (%s)\nThe file is a video even though its extension says otherwise.\nOnly real photos and GIFs are accepted.", msg.AuthorName))
			return
		}
		e.reactAndReply(session, msg, "❌ Upload failed. Please try again later.")
		return
	}

	if err := session.DeleteMessage(msg.ChannelID, msg.ID); err != nil {
		e.logger.Warn("delete message failed", slog.Any("error", err))
	}

	lines := make([]string, 0, len(urls))
	for _, url := range urls {
		lines = append(lines, fmt.Sprintf("**Image uploaded** (%s)\nURL: %s", msg.AuthorName, url))
	}
	if err := session.SendMessage(msg.ChannelID, strings.Join(lines, "\n\n")); err != nil {
		e.logger.Error("send confirmation failed", slog.Any("error", err))
	}
}

// handleDirect is the DM branch: a user allow-list gates acceptance, video is
// permitted (routed to the video endpoint), compression is skipped, and
// reactions are never bulk-cleared because that operation is unavailable in
// DMs. DM messages are also never deleted.
func (e *Engine) handleDirect(ctx context.Context, session ChatSession, msg Message) {
	if _, ok := e.dmUsers[msg.AuthorID]; !ok {
		// Only answer users actually trying to upload something.
		if len(msg.Attachments) == 0 {
			return
		}
		if err := session.Reply(msg.ChannelID, msg.ID,
			"Direct uploads are reserved for whitelisted users. Contact an admin to get access."); err != nil {
			e.logger.Warn("dm solicitation reply failed", slog.Any("error", err))
		}
		return
	}

	var accepted []Attachment
	for _, att := range msg.Attachments {
		if att.isImage() || (e.videoInDM && att.isVideo()) {
			accepted = append(accepted, att)
		}
	}
	if len(accepted) == 0 {
		if err := session.Reply(msg.ChannelID, msg.ID, "Attach an image or video to upload it."); err != nil {
			e.logger.Warn("dm reply failed", slog.Any("error", err))
		}
		return
	}

	if err := session.React(msg.ChannelID, msg.ID, processingEmoji); err != nil {
		e.logger.Warn("processing reaction failed", slog.Any("error", err))
	}

	var urls []string
	var failed error
	for _, att := range accepted {
		if att.Size > maxDirectUploadBytes {
			failed = fmt.Errorf("%s is larger than 10 MB", att.Name)
			break
		}
		url, err := e.uploader.UploadDirect(ctx, att.URL, att.Name)
		if err != nil {
			failed = err
			break
		}
		urls = append(urls, url)
	}

	if failed != nil {
		e.logger.Error("direct upload failed",
			slog.String("message_id", msg.ID),
			slog.Any("error", failed),
		)
		if err := session.React(msg.ChannelID, msg.ID, failureEmoji); err != nil {
			e.logger.Warn("failure reaction failed", slog.Any("error", err))
		}
		if err := session.Reply(msg.ChannelID, msg.ID, "❌ Upload failed: "+failed.Error()); err != nil {
			e.logger.Warn("failure reply failed", slog.Any("error", err))
		}
		return
	}

	lines := make([]string, 0, len(urls))
	for _, url := range urls {
		lines = append(lines, "**Uploaded**\nURL: "+url)
	}
	if err := session.Reply(msg.ChannelID, msg.ID, strings.Join(lines, "\n\n")); err != nil {
		e.logger.Error("dm confirmation failed", slog.Any("error", err))
	}
}

func (e *Engine) deleteWithNotice(session ChatSession, msg Message, notice string) {
	if err := session.DeleteMessage(msg.ChannelID, msg.ID); err != nil {
		e.logger.Warn("delete message failed", slog.Any("error", err))
	}
	if err := session.SendMessage(msg.ChannelID, notice); err != nil {
		e.logger.Error("send notice failed", slog.Any("error", err))
	}
}

func (e *Engine) reactAndReply(session ChatSession, msg Message, content string) {
	if err := session.React(msg.ChannelID, msg.ID, failureEmoji); err != nil {
		e.logger.Warn("failure reaction failed", slog.Any("error", err))
	}
	if err := session.Reply(msg.ChannelID, msg.ID, content); err != nil {
		e.logger.Warn("reply failed", slog.Any("error", err))
	}
}

func (e *Engine) hasAllowedRole(roleIDs []string) bool {
	for _, id := range roleIDs {
		if _, ok := e.roles[id]; ok {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
