// Package oaclient implements the client half of the assessment protocol: a
// session controller that drives Start/SubmitSection/Terminate under time
// pressure, navigation events, and connectivity loss. The server trusts the
// client's self-reported timing and relies on the termination triggers here
// to bound exposure, so this controller's contract is part of the state
// machine's correctness.
package oaclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Phase enumerates the controller session states.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseDashboard       Phase = "dashboard"
	PhaseConfirmingStart Phase = "confirmingStart"
	PhaseInSection       Phase = "inSection"
	PhaseBetweenSections Phase = "betweenSections"
	PhaseCompleted       Phase = "completed"
	PhaseTerminated      Phase = "terminated"
)

// offlineGraceSeconds is how long the controller waits for connectivity to
// come back before terminating the attempt.
const offlineGraceSeconds = 10

var (
	// ErrInvalidPhase indicates the operation is not legal in the current phase.
	ErrInvalidPhase = errors.New("operation not valid in current phase")
	// ErrNoPendingSubmit indicates ConfirmSubmit was called without RequestSubmit.
	ErrNoPendingSubmit = errors.New("no submission awaiting confirmation")
)

// SectionInfo is the client-side metadata for one section. Question content
// is only fetched when the section is entered, never before.
type SectionInfo struct {
	Index            int
	Name             string
	QuestionCount    int
	TimeLimitMinutes int
}

// ParticipantState is the server's view of the attempt returned by Start.
type ParticipantState struct {
	Status            string
	SubmittedSections int
}

// SubmitResult is the server's response to a section submission.
type SubmitResult struct {
	Score             int
	TotalSections     int
	SubmittedSections int
	Status            string
}

// Transport performs the network calls of the protocol. Every call is a
// single attempt; the controller never retries.
type Transport interface {
	Start(ctx context.Context) (ParticipantState, error)
	SubmitSection(ctx context.Context, sectionIndex int, answers []string, timeTakenSeconds int) (SubmitResult, error)
	Terminate(ctx context.Context) error
}

// NavigationGuard is the environment hook armed whenever the session enters a
// guarded phase; in a browser it pushes a synthetic history entry so that
// back/forward navigation can be intercepted.
type NavigationGuard interface {
	Arm()
}

type nopGuard struct{}

func (nopGuard) Arm() {}

// Controller is the single authoritative session state machine. The countdown
// reads controller state directly; there is no mirrored copy for timers to
// go stale against. All methods are safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	transport Transport
	guard     NavigationGuard
	logger    zerolog.Logger

	phase            Phase
	sections         []SectionInfo
	current          int
	remainingSeconds int
	answers          []string
	pendingSubmit    bool
	autoSubmitted    bool
	offlineRemaining int
	offline          bool
	lastErr          error
}

// Snapshot is a point-in-time copy of the controller state for rendering.
type Snapshot struct {
	Phase            Phase
	CurrentSection   int
	RemainingSeconds int
	Answers          []string
	OfflineRemaining int
	Err              error
}

// NewSession builds a controller for the given section metadata and places
// it on the dashboard. guard may be nil.
func NewSession(transport Transport, sections []SectionInfo, guard NavigationGuard, logger zerolog.Logger) *Controller {
	if guard == nil {
		guard = nopGuard{}
	}

	return &Controller{
		transport:        transport,
		guard:            guard,
		logger:           logger.With().Str("component", "oa_client").Logger(),
		phase:            PhaseDashboard,
		sections:         sections,
		offlineRemaining: -1,
	}
}

// Run drives the one-second countdown until ctx is cancelled. Tests can call
// Tick directly instead.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	answers := make([]string, len(c.answers))
	copy(answers, c.answers)

	offline := -1
	if c.offline {
		offline = c.offlineRemaining
	}

	return Snapshot{
		Phase:            c.phase,
		CurrentSection:   c.current,
		RemainingSeconds: c.remainingSeconds,
		Answers:          answers,
		OfflineRemaining: offline,
		Err:              c.lastErr,
	}
}

// RequestStart moves from the dashboard to the start confirmation step. The
// confirmation exists because section content is only delivered once the
// user commits to starting.
func (c *Controller) RequestStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseDashboard {
		return ErrInvalidPhase
	}
	c.phase = PhaseConfirmingStart
	return nil
}

// ConfirmStart performs the Start call and enters the first unsubmitted
// section. A failed call returns the session to the dashboard.
func (c *Controller) ConfirmStart(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseConfirmingStart {
		c.mu.Unlock()
		return ErrInvalidPhase
	}
	c.mu.Unlock()

	state, err := c.transport.Start(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.phase = PhaseDashboard
		c.lastErr = err
		return err
	}

	switch state.Status {
	case "completed":
		c.phase = PhaseCompleted
		return nil
	case "terminated":
		c.phase = PhaseTerminated
		return nil
	}

	c.enterSection(state.SubmittedSections)
	return nil
}

// SetAnswer records the answer for a question in the current section. An
// empty string clears it (skipped).
func (c *Controller) SetAnswer(questionIndex int, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseInSection {
		return ErrInvalidPhase
	}
	if questionIndex < 0 || questionIndex >= len(c.answers) {
		return ErrInvalidPhase
	}
	c.answers[questionIndex] = answer
	return nil
}

// RequestSubmit marks the current section for submission. The explicit
// confirmation step exists because a submission is irrevocable.
func (c *Controller) RequestSubmit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseInSection {
		return ErrInvalidPhase
	}
	c.pendingSubmit = true
	return nil
}

// CancelSubmit withdraws a pending submission request.
func (c *Controller) CancelSubmit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingSubmit = false
}

// ConfirmSubmit performs the submission for the current section. On failure
// the session stays in-section and the error is surfaced; there is no retry.
func (c *Controller) ConfirmSubmit(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseInSection {
		c.mu.Unlock()
		return ErrInvalidPhase
	}
	if !c.pendingSubmit {
		c.mu.Unlock()
		return ErrNoPendingSubmit
	}
	c.pendingSubmit = false
	section := c.sections[c.current]
	timeTaken := section.TimeLimitMinutes*60 - c.remainingSeconds
	answers := make([]string, len(c.answers))
	copy(answers, c.answers)
	index := c.current
	c.mu.Unlock()

	result, err := c.transport.SubmitSection(ctx, index, answers, timeTaken)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.lastErr = err
		return err
	}

	c.advanceAfterSubmit(result)
	return nil
}

// StartNextSection leaves the between-sections screen and enters the next
// section, re-arming the navigation guard.
func (c *Controller) StartNextSection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseBetweenSections {
		return ErrInvalidPhase
	}
	c.enterSection(c.current + 1)
	return nil
}

// NavigateBack handles an intercepted history navigation: the attempt is
// terminated unconditionally and unsaved answers are lost.
func (c *Controller) NavigateBack(ctx context.Context) {
	c.mu.Lock()
	if c.phase != PhaseInSection && c.phase != PhaseBetweenSections {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.terminate(ctx, "navigation")
}

// Unload handles tab close or reload: a best-effort fire-and-forget
// Terminate. The response is never observed.
func (c *Controller) Unload() {
	c.mu.Lock()
	if c.phase != PhaseInSection && c.phase != PhaseBetweenSections {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseTerminated
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.transport.Terminate(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("unload terminate not delivered")
		}
	}()
}

// Offline starts the connectivity grace countdown.
func (c *Controller) Offline() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseInSection && c.phase != PhaseBetweenSections {
		return
	}
	if c.offline {
		return
	}
	c.offline = true
	c.offlineRemaining = offlineGraceSeconds
}

// Online cancels the connectivity grace countdown with no other effect.
func (c *Controller) Online() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = false
	c.offlineRemaining = -1
}

// Tick advances the one-second timers: the section countdown and the offline
// watchdog. The countdown reaching zero is the only place auto-submission
// happens.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()

	if c.offline {
		c.offlineRemaining--
		if c.offlineRemaining <= 0 {
			c.offline = false
			c.offlineRemaining = -1
			c.mu.Unlock()
			c.terminate(ctx, "offline")
			return
		}
	}

	if c.phase != PhaseInSection || c.autoSubmitted {
		c.mu.Unlock()
		return
	}

	c.remainingSeconds--
	if c.remainingSeconds > 0 {
		c.mu.Unlock()
		return
	}

	// The countdown fires exactly once. The latch holds even when the call
	// below fails, so a lost response cannot turn into a once-per-second
	// duplicate-submission loop.
	c.autoSubmitted = true
	c.remainingSeconds = 0
	section := c.sections[c.current]
	answers := make([]string, len(c.answers))
	copy(answers, c.answers)
	index := c.current
	c.pendingSubmit = false
	c.mu.Unlock()

	// Auto-submit with whatever has been collected. Failure is absorbed:
	// no retry, the attempt stays where it is.
	result, err := c.transport.SubmitSection(ctx, index, answers, section.TimeLimitMinutes*60)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.lastErr = err
		c.logger.Warn().Err(err).Int("section", index).Msg("auto-submit failed")
		return
	}

	c.advanceAfterSubmit(result)
}

func (c *Controller) enterSection(index int) {
	section := c.sections[index]
	c.phase = PhaseInSection
	c.current = index
	c.remainingSeconds = section.TimeLimitMinutes * 60
	c.answers = make([]string, section.QuestionCount)
	c.pendingSubmit = false
	c.autoSubmitted = false
	c.lastErr = nil
	c.guard.Arm()
}

func (c *Controller) advanceAfterSubmit(result SubmitResult) {
	if result.Status == "completed" || result.SubmittedSections >= result.TotalSections {
		c.phase = PhaseCompleted
		return
	}

	c.phase = PhaseBetweenSections
	// The guard re-arms here too: between-sections is still a guarded phase,
	// and entering the next section re-arms it again.
	c.guard.Arm()
}

// terminate performs the unconditional Terminate call and freezes the local
// session regardless of the call's outcome.
func (c *Controller) terminate(ctx context.Context, reason string) {
	if err := c.transport.Terminate(ctx); err != nil {
		c.logger.Warn().Err(err).Str("reason", reason).Msg("terminate call failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseTerminated
	c.logger.Info().Str("reason", reason).Msg("attempt terminated")
}
