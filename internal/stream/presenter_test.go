package stream_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neuroscribe/scribebot/internal/stream"
)

// fakeTransport records sends and edits and can fail on demand.
type fakeTransport struct {
	sends []transportCall
	edits []transportCall

	nextID int

	// failEdits holds errors returned by upcoming Edit calls, consumed in order.
	failEdits []error
	// failSends holds errors returned by upcoming Send calls, consumed in order.
	failSends []error
}

type transportCall struct {
	chatID    int64
	messageID int
	replyTo   int
	text      string
	markdown  bool
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, replyTo int, text string, markdown bool) (int, error) {
	if len(f.failSends) > 0 {
		err := f.failSends[0]
		f.failSends = f.failSends[1:]
		if err != nil {
			return 0, err
		}
	}
	f.nextID++
	f.sends = append(f.sends, transportCall{chatID: chatID, replyTo: replyTo, text: text, markdown: markdown})
	return f.nextID, nil
}

func (f *fakeTransport) Edit(_ context.Context, chatID int64, messageID int, text string, markdown bool) error {
	if len(f.failEdits) > 0 {
		err := f.failEdits[0]
		f.failEdits = f.failEdits[1:]
		if err != nil {
			return err
		}
	}
	f.edits = append(f.edits, transportCall{chatID: chatID, messageID: messageID, text: text, markdown: markdown})
	return nil
}

func smallPolicy() stream.Policy {
	return stream.Policy{
		Private:     []stream.Breakpoint{{MinLen: 0, Cutoff: 10}},
		Group:       []stream.Breakpoint{{MinLen: 0, Cutoff: 20}},
		LengthCap:   50,
		BackoffStep: 5,
	}
}

func TestSessionFirstUpdateSendsPlain(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	sess := stream.New(transport, smallPolicy(), nil).Begin(42, 7, false)

	sess.Update(context.Background(), "Hel")

	if len(transport.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(transport.sends))
	}
	got := transport.sends[0]
	if got.chatID != 42 || got.replyTo != 7 {
		t.Errorf("send = chat %d reply %d, want chat 42 reply 7", got.chatID, got.replyTo)
	}
	if got.markdown {
		t.Error("interim send used markdown, want plain")
	}
}

func TestSessionThrottlesEdits(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	sess := stream.New(transport, smallPolicy(), nil).Begin(42, 0, false)
	ctx := context.Background()

	sess.Update(ctx, "12345")
	// Only 4 new runes since the send; below the cutoff of 10.
	sess.Update(ctx, "123456789")
	if len(transport.edits) != 0 {
		t.Fatalf("edits after small delta = %d, want 0", len(transport.edits))
	}

	// Exactly 10 new runes is still not past the cutoff.
	sess.Update(ctx, "123456789012345")
	if len(transport.edits) != 0 {
		t.Fatalf("edits at exact cutoff = %d, want 0", len(transport.edits))
	}

	sess.Update(ctx, "1234567890123456")
	if len(transport.edits) != 1 {
		t.Fatalf("edits past cutoff = %d, want 1", len(transport.edits))
	}
	if transport.edits[0].text != "1234567890123456" {
		t.Errorf("edit text = %q, want full content", transport.edits[0].text)
	}
}

func TestSessionBacksOffAfterFailedEdit(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{failEdits: []error{errors.New("boom")}}
	sess := stream.New(transport, smallPolicy(), nil).Begin(42, 0, false)
	ctx := context.Background()

	sess.Update(ctx, "12345")
	sess.Update(ctx, "1234567890123456") // edit fails, backoff becomes 5

	// 12 new runes pass the base cutoff but not cutoff+backoff.
	sess.Update(ctx, strings.Repeat("a", 17))
	if len(transport.edits) != 0 {
		t.Fatalf("edits = %d, want 0 while backed off", len(transport.edits))
	}

	// 25 new runes pass cutoff 10 plus backoff 5.
	sess.Update(ctx, strings.Repeat("a", 30))
	if len(transport.edits) != 1 {
		t.Fatalf("edits = %d, want 1 once the raised cutoff is met", len(transport.edits))
	}
}

func TestSessionRetriesSameContentAfterRateLimit(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		failEdits: []error{&stream.RateLimitError{RetryAfter: time.Millisecond}},
	}
	sess := stream.New(transport, smallPolicy(), nil).Begin(42, 0, false)
	ctx := context.Background()

	sess.Update(ctx, "12345")
	sess.Update(ctx, "1234567890123456")

	if len(transport.edits) != 1 {
		t.Fatalf("edits = %d, want 1 after rate limit retry", len(transport.edits))
	}
	if transport.edits[0].text != "1234567890123456" {
		t.Errorf("retried edit text = %q, want the same content", transport.edits[0].text)
	}
}

func TestSessionRollsOverAtCap(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	sess := stream.New(transport, smallPolicy(), nil).Begin(42, 7, false)
	ctx := context.Background()

	sess.Update(ctx, strings.Repeat("a", 45))
	sess.Update(ctx, strings.Repeat("a", 120))

	// 120 pending runes split 50/50/20: the first segment closes the live
	// message, the second becomes its own message, and the last 20 runes
	// stream on in a fresh one.
	if len(transport.sends) != 3 {
		t.Fatalf("sends = %d, want 3 after rollover", len(transport.sends))
	}
	if len(transport.edits) != 1 {
		t.Fatalf("edits = %d, want 1 closing edit", len(transport.edits))
	}
	closing := transport.edits[0]
	if closing.messageID != 1 || closing.text != strings.Repeat("a", 50) {
		t.Errorf("closing edit = message %d with %d runes, want message 1 with 50",
			closing.messageID, len([]rune(closing.text)))
	}
	if !closing.markdown {
		t.Error("closing edit not in markdown")
	}
	live := transport.sends[2]
	if live.text != strings.Repeat("a", 20) || live.markdown {
		t.Errorf("live message = %d runes markdown=%v, want 20 plain", len([]rune(live.text)), live.markdown)
	}

	sess.Update(ctx, strings.Repeat("a", 200))
	if len(transport.sends) != 4 {
		t.Fatalf("sends = %d, want 4 after second rollover", len(transport.sends))
	}

	if err := sess.Finish(ctx, strings.Repeat("a", 200)); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if got := finalText(transport); got != strings.Repeat("a", 200) {
		t.Errorf("assembled reply has %d runes, want 200", len([]rune(got)))
	}
}

func TestStreamedOutputMatchesChunked(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("line of text\n", 12)
	ctx := context.Background()

	streamed := &fakeTransport{}
	sess := stream.New(streamed, smallPolicy(), nil).Begin(42, 7, false)
	runes := []rune(content)
	for i := 15; i < len(runes); i += 15 {
		sess.Update(ctx, string(runes[:i]))
	}
	if err := sess.Finish(ctx, content); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	chunked := &fakeTransport{}
	if err := stream.New(chunked, smallPolicy(), nil).SendChunked(ctx, 42, 7, content); err != nil {
		t.Fatalf("SendChunked() error = %v", err)
	}

	if got, want := finalText(streamed), finalText(chunked); got != want {
		t.Errorf("streamed reply = %q, chunked reply = %q", got, want)
	}
	if got := finalText(streamed); got != content {
		t.Errorf("streamed reply = %q, want the full content", got)
	}
}

// finalText reassembles the reply as a reader would see it: every message in
// send order, with later edits replacing earlier text. Message IDs are
// sequential because no send in these scenarios fails.
func finalText(f *fakeTransport) string {
	texts := make([]string, len(f.sends))
	for i, s := range f.sends {
		texts[i] = s.text
	}
	for _, e := range f.edits {
		texts[e.messageID-1] = e.text
	}
	return strings.Join(texts, "")
}

func TestFinishFormatsAndContinues(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	sess := stream.New(transport, smallPolicy(), nil).Begin(42, 0, false)
	ctx := context.Background()

	sess.Update(ctx, "12345")

	final := strings.Repeat("a", 50) + strings.Repeat("b", 30)
	if err := sess.Finish(ctx, final); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	if len(transport.edits) != 1 {
		t.Fatalf("final edits = %d, want 1", len(transport.edits))
	}
	if !transport.edits[0].markdown {
		t.Error("final edit not in markdown")
	}
	if transport.edits[0].text != strings.Repeat("a", 50) {
		t.Errorf("final edit carries %d runes, want the first 50", len(transport.edits[0].text))
	}

	// sends[0] is the interim message; sends[1] is the continuation chunk.
	if len(transport.sends) != 2 {
		t.Fatalf("sends = %d, want 2", len(transport.sends))
	}
	if transport.sends[1].text != strings.Repeat("b", 30) {
		t.Errorf("continuation text = %q, want the remaining runes", transport.sends[1].text)
	}
}

func TestFinishFallsBackToPlainOnMarkdownError(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{failEdits: []error{errors.New("can't parse entities")}}
	sess := stream.New(transport, smallPolicy(), nil).Begin(42, 0, false)
	ctx := context.Background()

	sess.Update(ctx, "12345")

	if err := sess.Finish(ctx, "*broken *markdown"); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if len(transport.edits) != 1 {
		t.Fatalf("edits = %d, want 1 plain fallback", len(transport.edits))
	}
	if transport.edits[0].markdown {
		t.Error("fallback edit used markdown, want plain")
	}
}

func TestFinishWithoutInterimMessageSendsReply(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	sess := stream.New(transport, smallPolicy(), nil).Begin(42, 7, false)

	if err := sess.Finish(context.Background(), "done"); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if len(transport.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(transport.sends))
	}
	if transport.sends[0].replyTo != 7 {
		t.Errorf("replyTo = %d, want 7", transport.sends[0].replyTo)
	}
	if !transport.sends[0].markdown {
		t.Error("final send not in markdown")
	}
}

func TestSendChunked(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	p := stream.New(transport, smallPolicy(), nil)

	content := strings.Repeat("a", 50) + strings.Repeat("b", 50) + "tail"
	if err := p.SendChunked(context.Background(), 42, 7, content); err != nil {
		t.Fatalf("SendChunked() error = %v", err)
	}

	if len(transport.sends) != 3 {
		t.Fatalf("sends = %d, want 3", len(transport.sends))
	}
	if transport.sends[0].replyTo != 7 {
		t.Errorf("first chunk replyTo = %d, want 7", transport.sends[0].replyTo)
	}
	if transport.sends[1].replyTo != 0 || transport.sends[2].replyTo != 0 {
		t.Error("continuation chunks should not be replies")
	}
}
