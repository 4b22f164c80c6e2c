package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Transport sends and edits chat messages. Implementations must return
// *RateLimitError when the chat API asks the caller to slow down.
type Transport interface {
	// Send posts a new message and returns its message ID. A non-zero replyTo
	// makes the message a reply.
	Send(ctx context.Context, chatID int64, replyTo int, text string, markdown bool) (int, error)

	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, chatID int64, messageID int, text string, markdown bool) error
}

// RateLimitError reports that the transport was throttled and when the
// operation may be retried.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Presenter renders an incrementally produced reply by editing one message in
// place, then finalizing with markdown formatting.
type Presenter struct {
	transport Transport
	policy    Policy
	logger    *slog.Logger
}

// New creates a Presenter over the given transport.
func New(transport Transport, policy Policy, logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if policy.LengthCap <= 0 {
		policy.LengthCap = MessageLengthCap
	}
	if policy.BackoffStep <= 0 {
		policy.BackoffStep = 5
	}
	return &Presenter{
		transport: transport,
		policy:    policy,
		logger:    logger.With("component", "stream"),
	}
}

// Session tracks one reply being presented: the in-flight message, how much
// of it has been shown, and the accumulated edit backoff.
type Session struct {
	p       *Presenter
	chatID  int64
	replyTo int
	group   bool

	messageID int
	lastLen   int
	backoff   int
	committed int
}

// Begin starts a session for one streamed reply. replyTo is the message
// being answered; group selects the group-chat throttling table.
func (p *Presenter) Begin(chatID int64, replyTo int, group bool) *Session {
	return &Session{p: p, chatID: chatID, replyTo: replyTo, group: group}
}

// Update presents the cumulative content so far. Edits are throttled: nothing
// happens until enough new content has accumulated since the last edit.
// Once the part not yet finalized outgrows the length cap, the full segments
// are closed out as their own messages and streaming continues in a fresh
// one. Failed edits are absorbed; the content will be carried by a later
// edit or by Finish.
func (s *Session) Update(ctx context.Context, content string) {
	runes := []rune(content)
	if len(runes) <= s.committed {
		return
	}
	tail := runes[s.committed:]

	if len(tail) > s.p.policy.LengthCap {
		s.rollOver(ctx, string(tail))
		return
	}

	if s.messageID == 0 {
		s.send(ctx, tail)
		return
	}

	cutoff := s.p.policy.CutoffFor(s.group, len(tail)) + s.backoff
	if len(tail)-s.lastLen <= cutoff {
		return
	}
	s.edit(ctx, tail)
}

// rollOver closes out every full segment of the pending content and carries
// the remainder into a new live message. Delivery failures on the closed
// segments are absorbed so the stream keeps moving.
func (s *Session) rollOver(ctx context.Context, pending string) {
	chunks := SplitChunks(pending, s.p.policy.LengthCap)
	for _, chunk := range chunks[:len(chunks)-1] {
		var err error
		if s.messageID != 0 {
			err = s.finalEdit(ctx, chunk)
		} else {
			replyTo := 0
			if s.committed == 0 {
				replyTo = s.replyTo
			}
			err = s.finalSend(ctx, replyTo, chunk)
		}
		if err != nil {
			s.p.logger.DebugContext(ctx, "Failed to close out full segment",
				"chat_id", s.chatID, "message_id", s.messageID, "error", err)
		}
		s.committed += len([]rune(chunk))
		s.messageID = 0
		s.lastLen = 0
	}
	s.send(ctx, []rune(chunks[len(chunks)-1]))
}

func (s *Session) send(ctx context.Context, runes []rune) {
	text := string(truncate(runes, s.p.policy.LengthCap))

	id, err := s.p.transport.Send(ctx, s.chatID, s.replyTo, text, false)
	if rl, ok := asRateLimit(err); ok {
		if !sleep(ctx, rl.RetryAfter) {
			return
		}
		id, err = s.p.transport.Send(ctx, s.chatID, s.replyTo, text, false)
	}
	if err != nil {
		s.p.logger.DebugContext(ctx, "Failed to send streamed message", "chat_id", s.chatID, "error", err)
		return
	}

	s.messageID = id
	s.lastLen = len(runes)
}

func (s *Session) edit(ctx context.Context, runes []rune) {
	text := string(truncate(runes, s.p.policy.LengthCap))

	err := s.p.transport.Edit(ctx, s.chatID, s.messageID, text, false)
	if rl, ok := asRateLimit(err); ok {
		// Retry the same content once the window passes rather than dropping
		// this revision.
		if !sleep(ctx, rl.RetryAfter) {
			return
		}
		err = s.p.transport.Edit(ctx, s.chatID, s.messageID, text, false)
	}
	if err != nil {
		s.backoff += s.p.policy.BackoffStep
		s.p.logger.DebugContext(ctx, "Failed to edit streamed message",
			"chat_id", s.chatID, "message_id", s.messageID, "backoff", s.backoff, "error", err)
		return
	}

	s.lastLen = len(runes)
}

// Finish presents the final content with markdown formatting. Content beyond
// the length cap continues in follow-up messages. When markdown rendering is
// refused the text is retried as plain.
func (s *Session) Finish(ctx context.Context, content string) error {
	runes := []rune(content)
	if len(runes) <= s.committed {
		return nil
	}

	chunks := SplitChunks(string(runes[s.committed:]), s.p.policy.LengthCap)
	if len(chunks) == 0 {
		return nil
	}

	start := 0
	if s.messageID != 0 {
		if err := s.finalEdit(ctx, chunks[0]); err != nil {
			return err
		}
		start = 1
	}

	for i := start; i < len(chunks); i++ {
		replyTo := 0
		if s.messageID == 0 && s.committed == 0 && i == 0 {
			replyTo = s.replyTo
		}
		if err := s.finalSend(ctx, replyTo, chunks[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) finalEdit(ctx context.Context, text string) error {
	err := s.p.transport.Edit(ctx, s.chatID, s.messageID, text, true)
	if rl, ok := asRateLimit(err); ok {
		if !sleep(ctx, rl.RetryAfter) {
			return ctx.Err()
		}
		err = s.p.transport.Edit(ctx, s.chatID, s.messageID, text, true)
	}
	if err != nil {
		// Markdown parse failures surface as generic bad requests; deliver
		// the text unformatted instead.
		s.p.logger.DebugContext(ctx, "Markdown edit refused, retrying plain",
			"chat_id", s.chatID, "message_id", s.messageID, "error", err)
		if err := s.p.transport.Edit(ctx, s.chatID, s.messageID, text, false); err != nil {
			return fmt.Errorf("failed to finalize streamed message: %w", err)
		}
	}
	return nil
}

func (s *Session) finalSend(ctx context.Context, replyTo int, text string) error {
	id, err := s.p.transport.Send(ctx, s.chatID, replyTo, text, true)
	if rl, ok := asRateLimit(err); ok {
		if !sleep(ctx, rl.RetryAfter) {
			return ctx.Err()
		}
		id, err = s.p.transport.Send(ctx, s.chatID, replyTo, text, true)
	}
	if err != nil {
		s.p.logger.DebugContext(ctx, "Markdown send refused, retrying plain",
			"chat_id", s.chatID, "error", err)
		id, err = s.p.transport.Send(ctx, s.chatID, replyTo, text, false)
		if err != nil {
			return fmt.Errorf("failed to send reply chunk: %w", err)
		}
	}
	if s.messageID == 0 {
		s.messageID = id
	}
	return nil
}

// SendChunked delivers a complete reply without streaming: the text is split
// at the length cap and sent as consecutive messages, the first as a reply.
func (p *Presenter) SendChunked(ctx context.Context, chatID int64, replyTo int, content string) error {
	sess := p.Begin(chatID, replyTo, false)
	return sess.Finish(ctx, content)
}

func truncate(runes []rune, maxLen int) []rune {
	if len(runes) <= maxLen {
		return runes
	}
	return runes[:maxLen]
}

func asRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
