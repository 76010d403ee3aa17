package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/qmuntal/stateless"

	"github.com/aichat/relay/internal/auth"
	"github.com/aichat/relay/internal/logger"
)

// Lifecycle states
type State stateless.State

var (
	StateConnecting    State = "Connecting"
	StateAuthenticated State = "Authenticated"
	StateIdle          State = "Idle"
	StateProcessing    State = "Processing"
	StateDisconnected  State = "Disconnected"
)

// Voice sub-states, orthogonal to the lifecycle
var (
	StateVoiceIdle   State = "VoiceIdle"
	StateVoiceActive State = "VoiceActive"
)

// Lifecycle triggers
type Trigger stateless.Trigger

var (
	TriggerAuthenticated Trigger = "Authenticated"
	TriggerRegistered    Trigger = "Registered"
	TriggerUtterance     Trigger = "UtteranceReceived"
	TriggerTurnDone      Trigger = "TurnDone"
	TriggerDisconnect    Trigger = "Disconnect"
	TriggerCallStart     Trigger = "CallStart"
	TriggerCallEnd       Trigger = "CallEnd"
)

var (
	// ErrBusy is returned when the session inbox is full.
	ErrBusy = errors.New("session: too many pending utterances")
	// ErrClosed is returned when work is submitted to a disconnected session.
	ErrClosed = errors.New("session: disconnected")
)

// inboxSize bounds how many utterances may queue behind an in-flight turn.
const inboxSize = 32

// Emitter delivers an outbound event to a session's connection, best-effort.
type Emitter interface {
	Emit(event string, payload any)
}

// Session is the live, authenticated, per-connection state container and the
// unit of turn serialization. Conversation ref, language hint and history are
// owned by the session's single worker goroutine; nothing else mutates them.
type Session struct {
	ID     string
	Claims auth.Claims

	// Worker-owned state.
	ConversationRef string
	Language        string
	History         History

	emitter     Emitter
	lifecycle   *stateless.StateMachine
	voice       *stateless.StateMachine
	interrupted atomic.Bool
	inbox       chan func()
	closed      bool
}

// New creates a session in the Connecting state.
func New(id string, claims auth.Claims, emitter Emitter) *Session {
	s := &Session{
		ID:       id,
		Claims:   claims,
		Language: "en",
		emitter:  emitter,
		inbox:    make(chan func(), inboxSize),
	}

	fsm := stateless.NewStateMachine(StateConnecting)
	fsm.Configure(StateConnecting).
		Permit(TriggerAuthenticated, StateAuthenticated).
		Permit(TriggerDisconnect, StateDisconnected)
	fsm.Configure(StateAuthenticated).
		Permit(TriggerRegistered, StateIdle).
		Permit(TriggerDisconnect, StateDisconnected)
	fsm.Configure(StateIdle).
		Permit(TriggerUtterance, StateProcessing).
		Permit(TriggerDisconnect, StateDisconnected)
	fsm.Configure(StateProcessing).
		Permit(TriggerTurnDone, StateIdle).
		Permit(TriggerDisconnect, StateDisconnected)
	s.lifecycle = fsm

	voice := stateless.NewStateMachine(StateVoiceIdle)
	voice.Configure(StateVoiceIdle).
		Permit(TriggerCallStart, StateVoiceActive)
	voice.Configure(StateVoiceActive).
		// A repeated call-start restarts the call: history reset, new hint.
		PermitReentry(TriggerCallStart).
		Permit(TriggerCallEnd, StateVoiceIdle).
		OnEntry(func(_ context.Context, _ ...any) error {
			s.History.Reset()
			return nil
		}).
		OnExit(func(_ context.Context, _ ...any) error {
			s.History.Reset()
			return nil
		})
	s.voice = voice

	return s
}

// Run drains the inbox until Close, executing each task in submission order.
// It is the only goroutine allowed to touch worker-owned state.
func (s *Session) Run() {
	for task := range s.inbox {
		task()
	}
}

// Do queues a task for the worker. A task submitted while another is running
// waits its turn; tasks never interleave.
func (s *Session) Do(task func()) error {
	if s.closed {
		return ErrClosed
	}
	select {
	case s.inbox <- task:
		return nil
	default:
		return ErrBusy
	}
}

// Close fires the disconnect transition and stops the worker once queued
// tasks finish. Must be called after the last Do.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.fire(s.lifecycle, TriggerDisconnect)
	close(s.inbox)
}

// Emit sends an outbound event to this session's own connection.
func (s *Session) Emit(event string, payload any) {
	s.emitter.Emit(event, payload)
}

// MarkAuthenticated records a successful authentication gate result.
func (s *Session) MarkAuthenticated() {
	s.fire(s.lifecycle, TriggerAuthenticated)
}

// MarkRegistered records registry insertion; the session becomes Idle.
func (s *Session) MarkRegistered() {
	s.fire(s.lifecycle, TriggerRegistered)
}

// BeginTurn moves Idle -> Processing. Called by the worker before a pipeline
// run.
func (s *Session) BeginTurn() {
	s.fire(s.lifecycle, TriggerUtterance)
}

// EndTurn moves Processing -> Idle after the pipeline completes, whether it
// succeeded or reported a failure.
func (s *Session) EndTurn() {
	s.fire(s.lifecycle, TriggerTurnDone)
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.MustState().(State)
}

// StartCall enters the voice call sub-state, resetting history and recording
// the requested language hint.
func (s *Session) StartCall(language string) {
	s.fire(s.voice, TriggerCallStart)
	if language != "" {
		s.Language = language
	}
}

// EndCall leaves the voice call sub-state and clears history.
func (s *Session) EndCall() {
	s.fire(s.voice, TriggerCallEnd)
}

// CallActive reports whether a voice call is in progress.
func (s *Session) CallActive() bool {
	return s.voice.MustState().(State) == StateVoiceActive
}

// Interrupt flags the in-flight generation to stop forwarding fragments at
// the next fragment boundary. Safe to call from any goroutine.
func (s *Session) Interrupt() {
	s.interrupted.Store(true)
}

// ClearInterrupt resets the interrupt flag before a new generation starts.
func (s *Session) ClearInterrupt() {
	s.interrupted.Store(false)
}

// Interrupted reports whether an interrupt was received.
func (s *Session) Interrupted() bool {
	return s.interrupted.Load()
}

func (s *Session) fire(fsm *stateless.StateMachine, trigger Trigger) {
	if err := fsm.Fire(trigger); err != nil {
		logger.L.Warn("session state transition refused", "session", s.ID, "trigger", trigger, "error", err)
	}
}
