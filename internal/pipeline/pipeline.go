// Package pipeline orchestrates one conversational turn: assemble the
// prompt, generate SQL, validate it, and retry once with corrective
// feedback when validation finds problems.
package pipeline

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmd-jude/db-chat/internal/conversation"
	apperrors "github.com/jmd-jude/db-chat/internal/errors"
	"github.com/jmd-jude/db-chat/internal/genai"
	"github.com/jmd-jude/db-chat/internal/logging"
	"github.com/jmd-jude/db-chat/internal/prompt"
	"github.com/jmd-jude/db-chat/internal/schema"
	"github.com/jmd-jude/db-chat/internal/validate"
)

// State names the orchestrator's position in a turn.
type State string

const (
	StateIdle       State = "idle"
	StateAssembling State = "assembling"
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateAccepted   State = "accepted"
	StateRetrying   State = "retrying"
	StateFailed     State = "failed"
)

// DefaultRetries is the corrective retry budget per turn.
const DefaultRetries = 1

// Session binds a conversation memory to the schema version it started
// with. The version is pinned for the session's lifetime so every turn
// validates against the same schema.
type Session struct {
	id      uuid.UUID
	memory  *conversation.Memory
	version *schema.Version
	pending *pendingTurn
}

// pendingTurn is an accepted query whose result rows have not been
// recorded yet.
type pendingTurn struct {
	question string
	query    string
}

// NewSession creates a session over the given schema version.
func NewSession(version *schema.Version, opts ...conversation.Option) *Session {
	return &Session{
		id:      uuid.New(),
		memory:  conversation.NewMemory(opts...),
		version: version,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id.String()
}

// Memory returns the session's conversation memory.
func (s *Session) Memory() *conversation.Memory {
	return s.memory
}

// Version returns the schema version the session is pinned to.
func (s *Session) Version() *schema.Version {
	return s.version
}

// RecordResults commits the pending accepted turn together with the result
// rows its execution produced, making the extracted entities available to
// the next turn. A session with no pending turn ignores the call.
func (s *Session) RecordResults(columns []string, rows [][]string) {
	if s.pending == nil {
		return
	}

	s.memory.Commit(s.pending.question, s.pending.query, columns, rows, s.version)
	s.pending = nil
}

// flushPending records a stale pending turn with no entities. Asking a new
// question before recording results means the previous turn's rows are
// gone, but the turn itself still belongs in the history.
func (s *Session) flushPending() {
	if s.pending == nil {
		return
	}

	s.memory.Commit(s.pending.question, s.pending.query, nil, nil, s.version)
	s.pending = nil
}

// Outcome is the result of one turn.
type Outcome struct {
	State    State
	SQL      string
	Warnings []string
	Attempts int
	Latency  time.Duration
}

// Orchestrator drives the assemble-generate-validate loop.
type Orchestrator struct {
	assembler *prompt.Assembler
	service   genai.Service
	rules     []prompt.Rule
	retries   int
	logger    *logging.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithAssembler replaces the default prompt assembler.
func WithAssembler(a *prompt.Assembler) OrchestratorOption {
	return func(o *Orchestrator) {
		if a != nil {
			o.assembler = a
		}
	}
}

// WithRules replaces the default rule set.
func WithRules(rules []prompt.Rule) OrchestratorOption {
	return func(o *Orchestrator) {
		o.rules = rules
	}
}

// WithRetries overrides the corrective retry budget.
func WithRetries(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an orchestrator over the given generation service.
func NewOrchestrator(service genai.Service, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		assembler: prompt.NewAssembler(),
		service:   service,
		rules:     prompt.DefaultRules(),
		retries:   DefaultRetries,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Ask runs one turn for the session. An advisory-only validation result is
// accepted with warnings; blocking violations that survive the retry budget
// fail the turn. The accepted query is held as the session's pending turn
// until RecordResults is called.
func (o *Orchestrator) Ask(ctx context.Context, session *Session, question string) (*Outcome, error) {
	session.flushPending()

	hint := session.memory.ResolveReferences(question)
	window := session.memory.Window(o.assembler.Window())

	req, err := o.assembler.Assemble(session.version, o.rules, window, hint, question)
	if err != nil {
		return &Outcome{State: StateFailed}, apperrors.Wrap(err, apperrors.ErrTypeAssembly,
			"failed to assemble generation request")
	}

	o.debugf("session %s: assembled request, %d prior turns, referring=%t",
		session.ID(), len(req.Conversation), hint.Referring)

	budget := o.retries
	attempts := 0
	current := req

	for {
		attempts++

		raw, err := o.service.Generate(ctx, current)
		if err != nil {
			var transient *genai.TransientError
			if stderrors.As(err, &transient) && budget > 0 {
				budget--
				o.debugf("session %s: transient generation failure, retrying: %v", session.ID(), err)

				continue
			}

			return &Outcome{State: StateFailed, Attempts: attempts}, wrapGeneration(err)
		}

		sql, err := genai.ExtractSQL(raw.Text)
		if err != nil {
			return &Outcome{State: StateFailed, Attempts: attempts, Latency: raw.Latency},
				apperrors.Wrap(err, apperrors.ErrTypeMalformedResponse, "response contained no usable SQL")
		}

		result := validate.Validate(sql, session.version)

		if len(result.Violations) > 0 && budget > 0 {
			budget--
			corrections := violationDetails(result.Violations)
			// corrective retry keeps the assembled context and re-enters
			// generation with the validator's feedback attached
			current = current.WithCorrections(corrections)
			o.debugf("session %s: %d validation violation(s), retrying with corrections",
				session.ID(), len(result.Violations))

			continue
		}

		if !result.IsValid() {
			blocking := violationDetails(result.Blocking())

			return &Outcome{
					State:    StateFailed,
					Attempts: attempts,
					Latency:  raw.Latency,
				}, apperrors.Newf(apperrors.ErrTypeValidation,
					"query failed validation after %d attempt(s): %s",
					attempts, joinDetails(blocking))
		}

		session.pending = &pendingTurn{question: req.Question, query: sql}

		o.debugf("session %s: accepted query after %d attempt(s)", session.ID(), attempts)

		return &Outcome{
			State:    StateAccepted,
			SQL:      sql,
			Warnings: violationDetails(result.Advisory()),
			Attempts: attempts,
			Latency:  raw.Latency,
		}, nil
	}
}

func wrapGeneration(err error) error {
	var transient *genai.TransientError
	if stderrors.As(err, &transient) {
		return apperrors.Wrap(err, apperrors.ErrTypeTransientGeneration, "generation backend unavailable").
			WithSuggestion("Retry the question; the backend failure is likely temporary")
	}

	var malformed *genai.MalformedResponseError
	if stderrors.As(err, &malformed) {
		return apperrors.Wrap(err, apperrors.ErrTypeMalformedResponse, "generation backend returned no usable response")
	}

	return apperrors.Wrap(err, apperrors.ErrTypeFatalGeneration, "generation request rejected").
		WithSuggestion("Check the provider, model, and API key configuration")
}

func violationDetails(violations []validate.Violation) []string {
	if len(violations) == 0 {
		return nil
	}

	details := make([]string, len(violations))
	for i, v := range violations {
		details[i] = v.Detail
	}

	return details
}

func joinDetails(details []string) string {
	return strings.Join(details, "; ")
}

func (o *Orchestrator) debugf(format string, args ...interface{}) {
	if o.logger != nil {
		o.logger.Debugf(format, args...)
	}
}
