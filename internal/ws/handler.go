package ws

import (
	"errors"
	"strings"
	"time"

	"github.com/aichat/relay/internal/logger"
	"github.com/aichat/relay/internal/pipeline"
)

// handleEvent dispatches one validated inbound event. Utterances and call
// state changes are queued on the session worker so turns never interleave;
// typing and room membership touch only mutex-guarded shared tables and run
// directly on the reader goroutine. Interrupts are acknowledged immediately,
// bypassing the queue.
func (s *Server) handleEvent(c *Client, event any) {
	sess := c.Sess

	switch ev := event.(type) {
	case *UserMessage:
		if strings.TrimSpace(ev.Text) == "" {
			c.Emit(EventError, ErrorPayload{Message: "message text is required"})
			return
		}
		s.enqueue(c, EventError, func() { s.runTextTurn(c, ev) })

	case *Typing:
		if ev.ConversationRef == "" {
			return
		}
		s.rooms.Broadcast(ev.ConversationRef, EventUserTyping, TypingPayload{
			UserID:   sess.Claims.SubjectID,
			IsTyping: ev.IsTyping,
		}, sess)

	case *JoinConversation:
		if ev.ConversationRef == "" {
			return
		}
		s.rooms.Join(sess, ev.ConversationRef)
		logger.L.Debug("joined conversation", "user", sess.Claims.SubjectID, "conversation", ev.ConversationRef)

	case *LeaveConversation:
		if ev.ConversationRef == "" {
			return
		}
		s.rooms.Leave(sess, ev.ConversationRef)

	case *VoiceCallStart:
		s.enqueue(c, EventVoiceError, func() {
			sess.StartCall(ev.Language)
			if ev.ConversationRef != "" {
				sess.ConversationRef = ev.ConversationRef
			}
			c.Emit(EventVoiceCallReady, VoiceCallReadyPayload{
				Message:         "Voice call ready. Start speaking!",
				ConversationRef: sess.ConversationRef,
				Language:        sess.Language,
			})
		})

	case *VoiceTranscript:
		// Interim transcripts are discarded without side effects.
		if !ev.IsFinal || strings.TrimSpace(ev.Text) == "" {
			return
		}
		s.enqueue(c, EventVoiceError, func() { s.runVoiceTurn(c, ev) })

	case *VoiceCallEnd:
		s.enqueue(c, EventVoiceError, func() {
			sess.EndCall()
			c.Emit(EventVoiceCallEnded, VoiceCallEndedPayload{Message: "Voice call ended successfully"})
		})

	case *VoiceInterrupt:
		sess.Interrupt()
		c.Emit(EventVoiceInterruptAck, nil)
	}
}

// enqueue queues work on the session worker, reporting a busy inbox on the
// given error channel.
func (s *Server) enqueue(c *Client, errEvent string, task func()) {
	if err := c.Sess.Do(task); err != nil {
		c.Emit(errEvent, ErrorPayload{Message: err.Error()})
	}
}

// runTextTurn executes the text pipeline for one utterance on the session
// worker and emits message-received then ai-message, in that order.
func (s *Server) runTextTurn(c *Client, ev *UserMessage) {
	sess := c.Sess
	sess.BeginTurn()
	defer sess.EndTurn()

	ref := ev.ConversationRef
	if ref == "" {
		ref = sess.ConversationRef
	}

	res, err := s.pipeline.ProcessText(c.ctx, sess.Claims.SubjectID, ev.Text, ref, sess.Language)
	if err != nil && !errors.Is(err, pipeline.ErrAssistantNotPersisted) {
		logger.L.Error("text turn failed", "user", sess.Claims.SubjectID, "error", err)
		c.Emit(EventError, ErrorPayload{Message: "failed to process message"})
		return
	}
	sess.ConversationRef = res.ConversationRef

	c.Emit(EventMessageReceived, messagePayload(res.UserMessage))
	c.Emit(EventAIMessage, messagePayload(res.AIMessage))
	if err != nil {
		c.Emit(EventError, ErrorPayload{Message: "reply could not be saved"})
	}
}

// runVoiceTurn executes the voice pipeline for one final transcript on the
// session worker: echo, stream fragments, then the completed reply.
func (s *Server) runVoiceTurn(c *Client, ev *VoiceTranscript) {
	sess := c.Sess
	if !sess.CallActive() {
		c.Emit(EventVoiceError, ErrorPayload{Message: "no active voice call"})
		return
	}
	if ev.Language != "" {
		sess.Language = ev.Language
	}

	ref := ev.ConversationRef
	if ref == "" {
		ref = sess.ConversationRef
	}

	sess.BeginTurn()
	defer sess.EndTurn()
	sess.ClearInterrupt()

	c.Emit(EventVoiceUserTranscript, VoiceUserTranscriptPayload{
		Transcript: ev.Text,
		Language:   sess.Language,
		Timestamp:  time.Now().UTC(),
	})

	res, err := s.pipeline.ProcessVoice(c.ctx, sess.Claims.SubjectID, ev.Text, ref, sess.Language, &sess.History, func(fragment string) bool {
		if sess.Interrupted() {
			return false
		}
		c.Emit(EventVoiceAIResponse, VoiceAIResponsePayload{Delta: fragment, Language: sess.Language})
		return true
	})
	if err != nil && !errors.Is(err, pipeline.ErrAssistantNotPersisted) {
		logger.L.Error("voice turn failed", "user", sess.Claims.SubjectID, "error", err)
		c.Emit(EventVoiceError, ErrorPayload{Message: "failed to process voice input"})
		return
	}
	sess.ConversationRef = res.ConversationRef

	c.Emit(EventVoiceAIResponse, VoiceAIResponsePayload{
		Response:        res.Reply.Text,
		Final:           true,
		ConversationRef: res.ConversationRef,
		MessageID:       res.AIMessage.ID,
		Language:        sess.Language,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		c.Emit(EventVoiceError, ErrorPayload{Message: "reply could not be saved"})
	}
}
