// Package bot owns the Discord gateway session and feeds inbound messages
// through a single-consumer queue into the policy engine.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/relaybot/relaybot/internal/policy"
)

// inboundQueueSize bounds the backlog of unprocessed messages. The queue is
// drained by exactly one worker, so attachment pipelines never run
// concurrently and the storage accounting stays serialized by structure.
const inboundQueueSize = 64

type Bot struct {
	logger  *slog.Logger
	session *discordgo.Session
	engine  *policy.Engine

	queue chan policy.Message
	ctx   context.Context

	mu  sync.RWMutex
	tag string
}

func New(log *slog.Logger, token string, engine *policy.Engine) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent |
		discordgo.IntentsDirectMessages

	b := &Bot{
		logger:  log.With(slog.String("service", "bot")),
		session: session,
		engine:  engine,
		queue:   make(chan policy.Message, inboundQueueSize),
		ctx:     context.Background(),
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

// Start opens the gateway connection and launches the queue consumer.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx
	go b.consume(ctx)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open connection: %w", err)
	}
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}

// Tag returns the logged-in bot identity, or "" before the ready event.
func (b *Bot) Tag() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tag
}

func (b *Bot) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			b.engine.HandleMessage(ctx, b, msg)
		}
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	tag := r.User.Username
	if r.User.Discriminator != "" && r.User.Discriminator != "0" {
		tag += "#" + r.User.Discriminator
	}
	b.mu.Lock()
	b.tag = tag
	b.mu.Unlock()

	b.logger.Info("bot ready", slog.String("tag", tag))
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	b.enqueue(convertMessage(m))
}

// enqueue hands the message to the consumer, waiting for a free slot when the
// backlog is full. discordgo dispatches every event on its own goroutine, so
// blocking here never stalls the gateway. Messages are only discarded on
// shutdown.
func (b *Bot) enqueue(msg policy.Message) {
	select {
	case b.queue <- msg:
	case <-b.ctx.Done():
		b.logger.Warn("shutting down, discarding message",
			slog.String("message_id", msg.ID),
			slog.String("channel_id", msg.ChannelID),
		)
	}
}

func convertMessage(m *discordgo.MessageCreate) policy.Message {
	msg := policy.Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		FromBot:    m.Author.Bot,
	}
	if m.Member != nil {
		msg.RoleIDs = m.Member.Roles
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, policy.Attachment{
			ID:          att.ID,
			URL:         att.URL,
			Name:        att.Filename,
			ContentType: att.ContentType,
			Size:        int64(att.Size),
		})
	}
	return msg
}

// --- policy.ChatSession ---

func (b *Bot) SendMessage(channelID, content string) error {
	_, err := b.session.ChannelMessageSend(channelID, truncateDiscordText(content))
	return err
}

func (b *Bot) Reply(channelID, messageID, content string) error {
	_, err := b.session.ChannelMessageSendReply(channelID, truncateDiscordText(content), &discordgo.MessageReference{
		ChannelID: channelID,
		MessageID: messageID,
	})
	return err
}

func (b *Bot) DeleteMessage(channelID, messageID string) error {
	return b.session.ChannelMessageDelete(channelID, messageID)
}

func (b *Bot) React(channelID, messageID, emoji string) error {
	return b.session.MessageReactionAdd(channelID, messageID, emoji)
}

func (b *Bot) RemoveAllReactions(channelID, messageID string) error {
	return b.session.MessageReactionsRemoveAll(channelID, messageID)
}

// truncateDiscordText enforces Discord's 2000-character message limit. The
// limit counts characters, not bytes, and slicing must not split a rune.
func truncateDiscordText(text string) string {
	const discordMaxLength = 2000
	runes := []rune(text)
	if len(runes) > discordMaxLength {
		return string(runes[:discordMaxLength-3]) + "..."
	}
	return text
}

var _ policy.ChatSession = (*Bot)(nil)

// SummarizeConfig logs the effective moderation setup once at startup.
func (b *Bot) SummarizeConfig(caps policy.Capabilities, hasSecondary bool) {
	if len(caps.Channels) > 0 {
		b.logger.Info("monitoring configured channels", slog.Int("count", len(caps.Channels)))
	} else {
		b.logger.Info("monitoring all channels")
	}
	if len(caps.Roles) > 0 {
		b.logger.Info("role whitelist enabled", slog.Int("count", len(caps.Roles)))
	} else {
		b.logger.Info("no role restriction, all users can upload")
	}
	if hasSecondary {
		b.logger.Info("secondary endpoint configured, will switch at storage threshold")
	} else {
		b.logger.Info("no secondary endpoint configured")
	}
	if len(caps.DMUsers) > 0 {
		b.logger.Info("direct-message whitelist enabled",
			slog.Int("count", len(caps.DMUsers)),
			slog.Bool("video_allowed", caps.VideoInDM),
		)
	}
}
