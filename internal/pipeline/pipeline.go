package pipeline

// Package pipeline runs the ordered persist -> generate -> persist sequence
// for one incoming utterance. The user message is always durable before the
// assistant message; the assistant reply always exists, falling back when the
// generator is unavailable.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aichat/relay/internal/llm"
	"github.com/aichat/relay/internal/session"
	"github.com/aichat/relay/internal/store"
)

// ErrAssistantNotPersisted flags that the assistant reply was generated but
// could not be stored. The result still carries both messages; the user
// message persisted in step 2 is not rolled back.
var ErrAssistantNotPersisted = errors.New("pipeline: assistant message not persisted")

// defaultGeneratorTimeout bounds how long a single generation may hold the
// session worker.
const defaultGeneratorTimeout = 60 * time.Second

// Pipeline executes turns against a store and a generator.
type Pipeline struct {
	store   store.Store
	gen     *llm.Generator
	timeout time.Duration
}

// New creates a pipeline with the default generator timeout.
func New(st store.Store, gen *llm.Generator) *Pipeline {
	return &Pipeline{store: st, gen: gen, timeout: defaultGeneratorTimeout}
}

// Result is the outcome of one completed turn.
type Result struct {
	UserMessage     store.Message
	AIMessage       store.Message
	ConversationRef string
	Reply           llm.Reply
}

// ProcessText runs the text turn pipeline. A missing conversation ref is
// synthesized. A store failure on the user message aborts the turn; a store
// failure on the assistant message is reported via ErrAssistantNotPersisted
// but the result still carries both messages.
func (p *Pipeline) ProcessText(ctx context.Context, ownerID, text, conversationRef, language string) (Result, error) {
	if conversationRef == "" {
		conversationRef = uuid.NewString()
	}
	if language == "" {
		language = "en"
	}

	userMsg, err := p.store.InsertMessage(ctx, text, store.SenderUser, ownerID, conversationRef)
	if err != nil {
		return Result{}, fmt.Errorf("persist user message: %w", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, p.timeout)
	reply := p.gen.Complete(genCtx, text, nil, language)
	cancel()

	res := Result{UserMessage: userMsg, ConversationRef: conversationRef, Reply: reply}
	res.AIMessage, err = p.persistReply(ctx, ownerID, conversationRef, reply.Text)
	return res, err
}

// ProcessVoice runs the voice turn pipeline for one final transcript. The
// transcript joins the session history before generation; the generator
// streams against the prior window and each fragment is forwarded through
// onFragment in arrival order. onFragment returns false to stop forwarding.
func (p *Pipeline) ProcessVoice(ctx context.Context, ownerID, transcript, conversationRef, language string, history *session.History, onFragment func(string) bool) (Result, error) {
	if conversationRef == "" {
		conversationRef = uuid.NewString()
	}
	if language == "" {
		language = "en"
	}

	contextTurns := history.Turns()
	history.Append(llm.TurnRoleUser, transcript)

	userMsg, err := p.store.InsertMessage(ctx, transcript, store.SenderUser, ownerID, conversationRef)
	if err != nil {
		return Result{}, fmt.Errorf("persist user message: %w", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, p.timeout)
	reply := p.gen.Stream(genCtx, transcript, contextTurns, language, onFragment)
	cancel()

	history.Append(llm.TurnRoleAssistant, reply.Text)

	res := Result{UserMessage: userMsg, ConversationRef: conversationRef, Reply: reply}
	res.AIMessage, err = p.persistReply(ctx, ownerID, conversationRef, reply.Text)
	return res, err
}

// persistReply stores the assistant message. On failure it synthesizes the
// message value (the text was already generated and, for voice, forwarded)
// and reports ErrAssistantNotPersisted.
func (p *Pipeline) persistReply(ctx context.Context, ownerID, conversationRef, text string) (store.Message, error) {
	aiMsg, err := p.store.InsertMessage(ctx, text, store.SenderAI, ownerID, conversationRef)
	if err == nil {
		return aiMsg, nil
	}
	return store.Message{
		ID:              uuid.NewString(),
		Content:         text,
		Sender:          store.SenderAI,
		OwnerID:         ownerID,
		ConversationRef: conversationRef,
		CreatedAt:       time.Now().UTC(),
	}, fmt.Errorf("%w: %v", ErrAssistantNotPersisted, err)
}
