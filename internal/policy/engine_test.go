package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/relaybot/relaybot/internal/uploader"
)

type sessionCall struct {
	op      string
	content string
}

type fakeSession struct {
	calls []sessionCall
}

func (s *fakeSession) SendMessage(channelID, content string) error {
	s.calls = append(s.calls, sessionCall{op: "send", content: content})
	return nil
}

func (s *fakeSession) Reply(channelID, messageID, content string) error {
	s.calls = append(s.calls, sessionCall{op: "reply", content: content})
	return nil
}

func (s *fakeSession) DeleteMessage(channelID, messageID string) error {
	s.calls = append(s.calls, sessionCall{op: "delete"})
	return nil
}

func (s *fakeSession) React(channelID, messageID, emoji string) error {
	s.calls = append(s.calls, sessionCall{op: "react", content: emoji})
	return nil
}

func (s *fakeSession) RemoveAllReactions(channelID, messageID string) error {
	s.calls = append(s.calls, sessionCall{op: "unreact_all"})
	return nil
}

func (s *fakeSession) ops() []string {
	ops := make([]string, len(s.calls))
	for i, c := range s.calls {
		ops[i] = c.op
	}
	return ops
}

func (s *fakeSession) find(op string) (sessionCall, bool) {
	for _, c := range s.calls {
		if c.op == op {
			return c, true
		}
	}
	return sessionCall{}, false
}

type fakeUploader struct {
	uploads       int
	directUploads int
	err           error
}

func (u *fakeUploader) Upload(ctx context.Context, fileURL, fileName string) (string, error) {
	u.uploads++
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example/" + fileName, nil
}

func (u *fakeUploader) UploadDirect(ctx context.Context, fileURL, fileName string) (string, error) {
	u.directUploads++
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example/direct/" + fileName, nil
}

func guildMessage(atts ...Attachment) Message {
	return Message{
		ID:          "msg-1",
		ChannelID:   "chan-1",
		GuildID:     "guild-1",
		AuthorID:    "user-1",
		AuthorName:  "sender",
		Attachments: atts,
	}
}

func imageAtt(name string) Attachment {
	return Attachment{ID: "att-1", URL: "https://cdn.discord/" + name, Name: name, ContentType: "image/png", Size: 1024}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		caps Capabilities
		msg  Message
		want Decision
	}{
		{
			name: "bot author ignored",
			msg:  Message{FromBot: true, GuildID: "g"},
			want: DecisionIgnore,
		},
		{
			name: "unmonitored channel ignored",
			caps: Capabilities{Channels: []string{"other"}},
			msg:  guildMessage(imageAtt("a.png")),
			want: DecisionIgnore,
		},
		{
			name: "video content type rejected",
			msg:  guildMessage(imageAtt("a.png"), Attachment{ContentType: "video/mp4"}),
			want: DecisionRejectVideo,
		},
		{
			name: "audio content type rejected",
			msg:  guildMessage(Attachment{ContentType: "audio/mpeg"}),
			want: DecisionRejectAudio,
		},
		{
			name: "text only rejected",
			msg:  guildMessage(),
			want: DecisionRejectNoMedia,
		},
		{
			name: "attachment without image type rejected",
			msg:  guildMessage(Attachment{ContentType: "application/pdf"}),
			want: DecisionRejectNoMedia,
		},
		{
			name: "role mismatch denied",
			caps: Capabilities{Roles: []string{"role-a"}},
			msg:  guildMessage(imageAtt("a.png")),
			want: DecisionDenyRole,
		},
		{
			name: "role match accepted",
			caps: Capabilities{Roles: []string{"role-a"}},
			msg: func() Message {
				m := guildMessage(imageAtt("a.png"))
				m.RoleIDs = []string{"role-b", "role-a"}
				return m
			}(),
			want: DecisionAccept,
		},
		{
			name: "plain image accepted",
			msg:  guildMessage(imageAtt("a.png")),
			want: DecisionAccept,
		},
		{
			name: "direct message routed to dm branch",
			msg:  Message{ID: "m", ChannelID: "dm", AuthorID: "u"},
			want: DecisionDirect,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewEngine(slog.Default(), tt.caps, &fakeUploader{})
			if got := e.Decide(tt.msg); got != tt.want {
				t.Fatalf("Decide()=%q want=%q", got, tt.want)
			}
		})
	}
}

func TestHandleVideoAttachmentDeletesWithoutUpload(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	up := &fakeUploader{}
	e := NewEngine(slog.Default(), Capabilities{}, up)

	e.HandleMessage(context.Background(), session, guildMessage(Attachment{ContentType: "video/mp4"}))

	if got := session.ops(); len(got) != 2 || got[0] != "delete" || got[1] != "send" {
		t.Fatalf("unexpected session ops: %v", got)
	}
	if up.uploads != 0 {
		t.Fatalf("uploader must not be invoked")
	}
}

func TestHandleTextOnlyDeletesWithWarning(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	e := NewEngine(slog.Default(), Capabilities{}, &fakeUploader{})

	e.HandleMessage(context.Background(), session, guildMessage())

	if got := session.ops(); len(got) != 2 || got[0] != "delete" || got[1] != "send" {
		t.Fatalf("unexpected session ops: %v", got)
	}
	notice, _ := session.find("send")
	if !strings.Contains(notice.content, "photos and GIFs only") {
		t.Fatalf("unexpected warning: %q", notice.content)
	}
}

func TestHandleAcceptedUploadsAndRewrites(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	up := &fakeUploader{}
	e := NewEngine(slog.Default(), Capabilities{}, up)

	e.HandleMessage(context.Background(), session, guildMessage(imageAtt("a.png")))

	want := []string{"react", "unreact_all", "delete", "send"}
	got := session.ops()
	if len(got) != len(want) {
		t.Fatalf("unexpected session ops: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op[%d]=%q want=%q (all: %v)", i, got[i], want[i], got)
		}
	}
	if up.uploads != 1 {
		t.Fatalf("expected 1 upload, got %d", up.uploads)
	}
	confirmation, _ := session.find("send")
	if n := strings.Count(confirmation.content, "https://cdn.example/"); n != 1 {
		t.Fatalf("confirmation should contain exactly one URL, got %d: %q", n, confirmation.content)
	}
}

func TestHandleDisguisedVideoDeletesWithDistinctNotice(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	up := &fakeUploader{err: fmt.Errorf("upload: %w", uploader.ErrVideoDetected)}
	e := NewEngine(slog.Default(), Capabilities{}, up)

	e.HandleMessage(context.Background(), session, guildMessage(imageAtt("fake.jpg")))

	if _, ok := session.find("delete"); !ok {
		t.Fatalf("disguised video must delete the message")
	}
	notice, ok := session.find("send")
	if !ok || !strings.Contains(notice.content, "Disguised video") {
		t.Fatalf("expected disguised-video notice, got %+v", notice)
	}
}

func TestHandleGenericFailureLeavesMessageIntact(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	up := &fakeUploader{err: errors.New("remote unavailable")}
	e := NewEngine(slog.Default(), Capabilities{}, up)

	e.HandleMessage(context.Background(), session, guildMessage(imageAtt("a.png")))

	if _, ok := session.find("delete"); ok {
		t.Fatalf("generic failure must not delete the message")
	}
	if _, ok := session.find("reply"); !ok {
		t.Fatalf("expected a failure reply")
	}
	if call, _ := session.find("unreact_all"); call.op != "unreact_all" {
		t.Fatalf("reactions must be cleared on failure")
	}
}

func TestHandleRoleDenial(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	e := NewEngine(slog.Default(), Capabilities{Roles: []string{"vip"}}, &fakeUploader{})

	e.HandleMessage(context.Background(), session, guildMessage(imageAtt("a.png")))

	got := session.ops()
	if len(got) != 2 || got[0] != "react" || got[1] != "reply" {
		t.Fatalf("unexpected session ops: %v", got)
	}
}

func TestHandleDirectNonListedGetsSolicitation(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	up := &fakeUploader{}
	e := NewEngine(slog.Default(), Capabilities{DMUsers: []string{"vip-user"}}, up)

	msg := Message{ID: "m", ChannelID: "dm-chan", AuthorID: "stranger", Attachments: []Attachment{imageAtt("a.png")}}
	e.HandleMessage(context.Background(), session, msg)

	reply, ok := session.find("reply")
	if !ok || !strings.Contains(reply.content, "whitelisted") {
		t.Fatalf("expected solicitation reply, got %+v", reply)
	}
	if up.uploads != 0 || up.directUploads != 0 {
		t.Fatalf("uploader must not be invoked")
	}
}

func TestHandleDirectNonListedTextGetsNoReply(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	up := &fakeUploader{}
	e := NewEngine(slog.Default(), Capabilities{DMUsers: []string{"vip-user"}}, up)

	msg := Message{ID: "m", ChannelID: "dm-chan", AuthorID: "stranger"}
	e.HandleMessage(context.Background(), session, msg)

	if got := session.ops(); len(got) != 0 {
		t.Fatalf("plain text from a non-listed user must be ignored, got ops %v", got)
	}
	if up.uploads != 0 || up.directUploads != 0 {
		t.Fatalf("uploader must not be invoked")
	}
}

func TestHandleDirectListedUploadsVideoWithoutClearingReactions(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	up := &fakeUploader{}
	e := NewEngine(slog.Default(), Capabilities{DMUsers: []string{"vip-user"}, VideoInDM: true}, up)

	msg := Message{
		ID:        "m",
		ChannelID: "dm-chan",
		AuthorID:  "vip-user",
		Attachments: []Attachment{
			{URL: "https://cdn.discord/clip.mp4", Name: "clip.mp4", ContentType: "video/mp4", Size: 1024},
		},
	}
	e.HandleMessage(context.Background(), session, msg)

	if up.directUploads != 1 {
		t.Fatalf("expected 1 direct upload, got %d", up.directUploads)
	}
	if _, ok := session.find("unreact_all"); ok {
		t.Fatalf("bulk reaction removal is unavailable in DMs")
	}
	if _, ok := session.find("delete"); ok {
		t.Fatalf("DM messages must not be deleted")
	}
	reply, ok := session.find("reply")
	if !ok || !strings.Contains(reply.content, "https://cdn.example/direct/clip.mp4") {
		t.Fatalf("expected confirmation reply with URL, got %+v", reply)
	}
}

func TestHandleDirectOversizedFilePreCheck(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	up := &fakeUploader{}
	e := NewEngine(slog.Default(), Capabilities{DMUsers: []string{"vip-user"}}, up)

	msg := Message{
		ID:        "m",
		ChannelID: "dm-chan",
		AuthorID:  "vip-user",
		Attachments: []Attachment{
			{URL: "https://cdn.discord/huge.png", Name: "huge.png", ContentType: "image/png", Size: 11 << 20},
		},
	}
	e.HandleMessage(context.Background(), session, msg)

	if up.directUploads != 0 {
		t.Fatalf("oversized file must fail the pre-check before upload")
	}
	reply, ok := session.find("reply")
	if !ok || !strings.Contains(reply.content, "10 MB") {
		t.Fatalf("expected size failure reply, got %+v", reply)
	}
}
