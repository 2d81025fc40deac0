// Package ai implements the AI Generation Coordinator: context assembly from
// persisted history, a streaming call against the upstream model, chunk
// fan-out over the realtime hub, completion persistence, and single-flight
// cancellation per conversation.
//
// It imports realtime (for the Registry and event catalog) but realtime never
// imports ai — the Router only knows the narrow realtime.Generator seam,
// wired together once in cmd/api after both sides are constructed.
package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"chatcore/internal/apperr"
	"chatcore/internal/config"
	"chatcore/internal/database"
	"chatcore/internal/logging"
	"chatcore/internal/models"
	"chatcore/internal/realtime"
)

const (
	contextWindowSize = 20    // N=20 messages, newest-first before trimming
	contextCharBudget = 30000 // cumulative character budget, including the prompt already in the window
)

// genHandle is the single-flight bookkeeping for one conversation's
// in-progress generation. superseded is set before cancel is called when a
// newer Generate call is replacing this one, so the cancelled goroutine knows
// whether to emit ai-stream-error{"superseded"} or ai-stream-error{"generation
// stopped"} (explicit stop).
type genHandle struct {
	cancel     context.CancelFunc
	ownerID    int64
	superseded atomic.Bool
}

// Coordinator is the AI Generation Coordinator. A nil client (AI_API_KEY
// unset) makes every Generate call emit ai-stream-error{"ai_not_configured"}
// without touching the upstream, per §4.6.
type Coordinator struct {
	db     *database.DB
	reg    *realtime.Registry
	client *openai.Client
	model  string
	log    zerolog.Logger

	callTimeout time.Duration
	idleTimeout time.Duration

	mu       sync.Mutex
	inflight map[int64]*genHandle
}

// New constructs a Coordinator. The upstream client is only built when
// cfg.AIAPIKey is set; AIBaseURL lets it target an OpenAI-compatible
// self-hosted endpoint instead of the public API.
func New(cfg *config.AppConfig, db *database.DB, reg *realtime.Registry, log zerolog.Logger) *Coordinator {
	var client *openai.Client
	if cfg.AIAPIKey != "" {
		cc := openai.DefaultConfig(cfg.AIAPIKey)
		if cfg.AIBaseURL != "" {
			cc.BaseURL = cfg.AIBaseURL
		}
		client = openai.NewClientWithConfig(cc)
	}
	return &Coordinator{
		db:          db,
		reg:         reg,
		client:      client,
		model:       cfg.AIModel,
		log:         logging.Component(log, "ai"),
		callTimeout: cfg.UpstreamCallTimeout,
		idleTimeout: cfg.UpstreamIdleTimeout,
		inflight:    make(map[int64]*genHandle),
	}
}

// --- wire payloads (outbound ai-stream-* events) ---

type streamStartPayload struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
}

type streamChunkPayload struct {
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	Chunk          string `json:"chunk"`
}

type streamEndPayload struct {
	ConversationID int64  `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	FullContent    string `json:"fullContent"`
}

type streamErrorPayload struct {
	ConversationID int64  `json:"conversationId"`
	Error          string `json:"error"`
}

func (co *Coordinator) emitError(room string, conversationID int64, reason string) {
	co.reg.Broadcast(room, realtime.NewEvent(realtime.OutAIStreamError, streamErrorPayload{
		ConversationID: conversationID, Error: reason,
	}))
}

// Generate implements realtime.Generator: it supersedes any in-flight
// generation for conversationID and starts a new one in the background.
// Callers (the Room Router) never block on this — streaming a model response
// can run well past the lifetime of the inbound event that triggered it.
func (co *Coordinator) Generate(ctx context.Context, conversationID, senderID int64, prompt, systemPrompt string) {
	room := realtime.ConversationRoom(conversationID)
	if co.client == nil {
		co.emitError(room, conversationID, "ai_not_configured")
		return
	}
	if strings.TrimSpace(prompt) == "" {
		return
	}

	genCtx, cancel := context.WithCancel(context.Background())
	handle := &genHandle{cancel: cancel, ownerID: senderID}

	co.mu.Lock()
	if prior, ok := co.inflight[conversationID]; ok {
		prior.superseded.Store(true)
		prior.cancel()
	}
	co.inflight[conversationID] = handle
	co.mu.Unlock()

	go co.run(genCtx, handle, conversationID, senderID, prompt, systemPrompt)
}

// Regenerate locates the caller's most recent TEXT message and resubmits it
// via Generate. The router has already deleted the prior AI_RESPONSE and
// broadcast message-deleted before calling this.
func (co *Coordinator) Regenerate(ctx context.Context, conversationID, callerID int64) {
	msg, err := co.db.MostRecentTextBySender(conversationID, callerID)
	if err != nil {
		co.emitError(realtime.ConversationRoom(conversationID), conversationID, "nothing to regenerate")
		return
	}
	systemPrompt := ""
	if conv, err := co.db.GetConversation(conversationID); err == nil && conv.SystemPrompt != nil {
		systemPrompt = *conv.SystemPrompt
	}
	co.Generate(ctx, conversationID, callerID, msg.Content, systemPrompt)
}

// Stop triggers the cancellation handle for conversationID, if any is
// in-flight. The stream loop reports it back as
// ai-stream-error{"generation stopped"} once the cancellation is observed.
func (co *Coordinator) Stop(conversationID int64) {
	co.mu.Lock()
	handle, ok := co.inflight[conversationID]
	co.mu.Unlock()
	if ok {
		handle.cancel()
	}
}

// StopOwnedBy cancels the in-flight generation for conversationID only if it
// was started by userID. Used when a connection drops and it was that
// connection's user's last subscriber of the conversation — a generation
// started by a different member of the same conversation is left running.
func (co *Coordinator) StopOwnedBy(conversationID, userID int64) {
	co.mu.Lock()
	handle, ok := co.inflight[conversationID]
	co.mu.Unlock()
	if ok && handle.ownerID == userID {
		handle.cancel()
	}
}

func (co *Coordinator) clearIfCurrent(conversationID int64, handle *genHandle) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if cur, ok := co.inflight[conversationID]; ok && cur == handle {
		delete(co.inflight, conversationID)
	}
}

// run performs one generation end to end. ctx is the single-flight
// cancellation handle's context (cancelled on Stop or supersede); it is
// distinct from the per-call 60s wall-clock timeout derived from it below.
func (co *Coordinator) run(ctx context.Context, handle *genHandle, conversationID, senderID int64, prompt, systemPrompt string) {
	defer co.clearIfCurrent(conversationID, handle)

	room := realtime.ConversationRoom(conversationID)

	messageID, err := co.db.NextMessageID()
	if err != nil {
		co.log.Error().Err(err).Msg("reserve ai message id failed")
		co.emitError(room, conversationID, "generation failed")
		return
	}

	co.reg.Broadcast(room, realtime.NewEvent(realtime.OutAIStreamStart, streamStartPayload{
		ConversationID: conversationID, MessageID: messageID,
	}))

	history, err := co.db.ContextMessages(conversationID, contextWindowSize)
	if err != nil {
		co.log.Error().Err(err).Msg("load ai context failed")
		co.emitError(room, conversationID, "generation failed")
		return
	}
	trimmed := trimByCharBudget(history, contextCharBudget)
	chatMessages := buildChatMessages(systemPrompt, trimmed)
	if len(chatMessages) == 0 {
		chatMessages = buildChatMessages(systemPrompt, []models.Message{{Type: models.MessageText, Content: prompt}})
	}

	callCtx, cancelCall := context.WithTimeout(ctx, co.callTimeout)
	defer cancelCall()

	stream, err := co.client.CreateChatCompletionStream(callCtx, openai.ChatCompletionRequest{
		Model:    co.model,
		Messages: chatMessages,
		Stream:   true,
	})
	if err != nil {
		co.log.Warn().Err(err).Msg("create completion stream failed")
		co.emitError(room, conversationID, "generation failed")
		return
	}
	defer stream.Close()

	type recv struct {
		content string
		err     error
	}
	chunks := make(chan recv)
	go func() {
		defer close(chunks)
		for {
			resp, err := stream.Recv()
			if err != nil {
				select {
				case chunks <- recv{err: err}:
				case <-callCtx.Done():
				}
				return
			}
			content := ""
			if len(resp.Choices) > 0 {
				content = resp.Choices[0].Delta.Content
			}
			select {
			case chunks <- recv{content: content}:
			case <-callCtx.Done():
				return
			}
		}
	}()

	idle := time.NewTimer(co.idleTimeout)
	defer idle.Stop()

	var full strings.Builder
	var streamErr error
	var idleTimedOut bool

loop:
	for {
		select {
		case <-callCtx.Done():
			break loop
		case r, ok := <-chunks:
			if !ok {
				break loop
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(co.idleTimeout)
			if r.err != nil {
				if !errors.Is(r.err, io.EOF) {
					streamErr = r.err
				}
				break loop
			}
			if r.content != "" {
				full.WriteString(r.content)
				co.reg.Broadcast(room, realtime.NewEvent(realtime.OutAIStreamChunk, streamChunkPayload{
					ConversationID: conversationID, MessageID: messageID, Chunk: r.content,
				}))
			}
		case <-idle.C:
			idleTimedOut = true
			cancelCall()
			break loop
		}
	}
	cancelCall()

	if idleTimedOut {
		co.log.Warn().Int64("conversationId", conversationID).Msg("ai stream idle timeout")
		co.emitError(room, conversationID, "generation failed")
		return
	}
	if ctx.Err() != nil {
		// Outer single-flight context cancelled: either a supersede (a newer
		// generation replaced this one) or an explicit stop-generation.
		if handle.superseded.Load() {
			co.emitError(room, conversationID, "superseded")
		} else {
			co.emitError(room, conversationID, "generation stopped")
		}
		return
	}
	if callCtx.Err() != nil {
		co.log.Warn().Int64("conversationId", conversationID).Msg("ai stream wall-clock timeout")
		co.emitError(room, conversationID, "generation failed")
		return
	}
	if streamErr != nil {
		co.log.Warn().Err(streamErr).Msg("ai stream recv failed")
		co.emitError(room, conversationID, "generation failed")
		return
	}

	persisted, err := co.db.CreateMessageWithID(messageID, conversationID, models.MessageAIResponse, full.String())
	if err != nil {
		co.log.Error().Err(err).Msg("persist ai response failed")
		co.emitError(room, conversationID, "generation failed")
		return
	}

	co.reg.Broadcast(room, realtime.NewEvent(realtime.OutAIStreamEnd, streamEndPayload{
		ConversationID: conversationID, MessageID: persisted.ID, FullContent: persisted.Content,
	}))

	if !co.reg.IsOnline(senderID) {
		if _, err := co.db.CreateNotification(senderID, models.NotifyAIComplete, "Response ready", truncate(persisted.Content, 120), map[string]interface{}{
			"conversationId": conversationID, "messageId": persisted.ID,
		}); err != nil {
			co.log.Warn().Err(err).Msg("create ai-complete notification failed")
		} else {
			co.reg.BroadcastToUser(senderID, realtime.NewEvent(realtime.OutNewNotification, nil))
		}
	}
}

// Summarize produces a synchronous summary of a conversation's recent
// history for the HTTP summarize endpoint. It is a one-shot completion call,
// independent of the streaming single-flight machinery: it never competes
// with, supersedes, or is cancelled by a concurrent Generate/Regenerate.
func (co *Coordinator) Summarize(ctx context.Context, conversationID int64) (string, error) {
	if co.client == nil {
		return "", apperr.Wrap(apperr.ErrUpstreamUnavailable, "AI not configured")
	}
	history, err := co.db.ContextMessages(conversationID, contextWindowSize)
	if err != nil {
		return "", err
	}
	trimmed := trimByCharBudget(history, contextCharBudget)
	if len(trimmed) == 0 {
		return "", apperr.Wrap(apperr.ErrValidation, "nothing to summarize")
	}

	instruction := "Summarize the conversation above in 3-5 concise sentences, capturing the key decisions and any open questions. Do not restate the instructions."
	callCtx, cancel := context.WithTimeout(ctx, co.callTimeout)
	defer cancel()
	resp, err := co.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:    co.model,
		Messages: buildChatMessages(instruction, trimmed),
	})
	if err != nil || len(resp.Choices) == 0 {
		co.log.Warn().Err(err).Msg("summarize completion failed")
		return "", apperr.Wrap(apperr.ErrUpstreamUnavailable, "summarize failed")
	}
	return resp.Choices[0].Message.Content, nil
}

// SmartReplies proposes up to three short quick-reply suggestions based on a
// conversation's most recent messages, for the HTTP smart-replies endpoint.
func (co *Coordinator) SmartReplies(ctx context.Context, conversationID int64) ([]string, error) {
	if co.client == nil {
		return nil, apperr.Wrap(apperr.ErrUpstreamUnavailable, "AI not configured")
	}
	history, err := co.db.ContextMessages(conversationID, 6)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, apperr.Wrap(apperr.ErrValidation, "nothing to reply to")
	}

	instruction := "Suggest exactly 3 short, distinct quick replies the recipient could send next. One per line, no numbering, no quotes."
	callCtx, cancel := context.WithTimeout(ctx, co.callTimeout)
	defer cancel()
	resp, err := co.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:     co.model,
		Messages:  buildChatMessages(instruction, history),
		MaxTokens: 120,
	})
	if err != nil || len(resp.Choices) == 0 {
		co.log.Warn().Err(err).Msg("smart replies completion failed")
		return nil, apperr.Wrap(apperr.ErrUpstreamUnavailable, "smart replies failed")
	}

	var out []string
	for _, line := range strings.Split(strings.TrimSpace(resp.Choices[0].Message.Content), "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-•0123456789. \t"))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == 3 {
			break
		}
	}
	return out, nil
}

// trimByCharBudget keeps the newest suffix of msgs whose content lengths sum
// to at most budget characters, dropping the oldest messages first. msgs must
// already be ascending by createdAt (ContextMessages' contract).
func trimByCharBudget(msgs []models.Message, budget int) []models.Message {
	total := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		total += len(msgs[i].Content)
		if total > budget {
			return msgs[i+1:]
		}
	}
	return msgs
}

// buildChatMessages maps TEXT -> user, AI_RESPONSE -> assistant, prefixed by
// a system message when systemPrompt is non-empty.
func buildChatMessages(systemPrompt string, msgs []models.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Type == models.MessageAIResponse {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
