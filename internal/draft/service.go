package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// User-facing notification texts, carried verbatim from the authoring UI.
const (
	msgEmptyMoyamoya  = "今の「もやもや」を教えてくださいね。"
	msgGenerateFailed = "原稿の生成に失敗しました。もう一度試してみてください。"
	msgScriptReady    = "原稿ができました！"
	msgNoAnswers      = "質問に回答を入力してから「磨き上げる」を押してください。"
	msgRefineFailed   = "原稿の更新に失敗しました。"
	msgScriptRefined  = "内容を反映して、原稿がさらに進化しました！"
)

const exportFilenamePrefix = "プレゼン原稿_"

const (
	opServiceNew      = "draft.service.new"
	opUpdateMoyamoya  = "draft.update_moyamoya"
	opGenerateInitial = "draft.generate_initial"
	opSetAnswer       = "draft.set_answer"
	opRefine          = "draft.refine"
	opReset           = "draft.reset"
	opExport          = "draft.export"
	opSlideOutline    = "draft.slide_outline"
)

var (
	errMissingStore     = errors.New("document store is required")
	errMissingGenerator = errors.New("generator is required")
)

// Generator is the capability contract of the text-generation backend: the
// three pipeline phases plus the alternate slide-outline shot. Model
// identity, credentials and transport live behind this boundary.
type Generator interface {
	GenerateInitialScript(ctx context.Context, moyamoya string) (string, error)
	GenerateQuestions(ctx context.Context, moyamoya, script string) ([]Question, error)
	MergeAnswers(ctx context.Context, script string, questions []Question) (string, error)
	GenerateSlideOutline(ctx context.Context, input string) (SlideOutline, error)
}

// Notifier surfaces transient success and error messages to the author.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// EventPublisher announces committed draft mutations to live subscribers.
type EventPublisher interface {
	PublishDraftChanged(op OperationType, version int64)
}

type noopNotifier struct{}

func (noopNotifier) Success(string) {}
func (noopNotifier) Error(string)   {}

type noopPublisher struct{}

func (noopPublisher) PublishDraftChanged(OperationType, int64) {}

// ServiceConfig wires the refinement service dependencies.
type ServiceConfig struct {
	Store     *Store
	Generator Generator
	Notifier  Notifier
	Events    EventPublisher
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service orchestrates the draft lifecycle: it runs the generation phases,
// commits their results through the store, advances the refinement state
// machine and reports outcomes on the notification channel.
type Service struct {
	store      *Store
	generator  Generator
	notifier   Notifier
	events     EventPublisher
	clock      func() time.Time
	logger     *zap.Logger
	machine    *StateMachine
	generating atomic.Bool
}

// NewService constructs the service and restores the refinement phase from
// the recovered draft.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Generator == nil {
		return nil, newServiceError(opServiceNew, "missing_generator", errMissingGenerator)
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	events := cfg.Events
	if events == nil {
		events = noopPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	machine := NewStateMachine()
	machine.Restore(cfg.Store.Get())

	return &Service{
		store:     cfg.Store,
		generator: cfg.Generator,
		notifier:  notifier,
		events:    events,
		clock:     clock,
		logger:    logger,
		machine:   machine,
	}, nil
}

// Phase returns the current refinement phase.
func (s *Service) Phase() Phase {
	return s.machine.Phase()
}

// CurrentDraft returns an immutable snapshot of the draft.
func (s *Service) CurrentDraft() Draft {
	return s.store.Get()
}

// UpdateMoyamoya replaces the raw author input.
func (s *Service) UpdateMoyamoya(ctx context.Context, text string) (Draft, error) {
	updated, err := s.store.Update(ctx, OperationTypeInput, func(d *Draft) error {
		d.Moyamoya = text
		return nil
	})
	if err != nil {
		s.logError(opUpdateMoyamoya, "store_update_failed", err)
		return Draft{}, err
	}
	s.events.PublishDraftChanged(OperationTypeInput, updated.Version)
	return updated, nil
}

// GenerateInitial runs phase 1 and, on success, the chained phase 2. The
// script commit is never rolled back by a later question failure: when
// question generation fails the draft keeps the fresh script with an empty
// question set and the author sees a retry-oriented error message.
func (s *Service) GenerateInitial(ctx context.Context) (Draft, error) {
	if !s.generating.CompareAndSwap(false, true) {
		return Draft{}, ErrGenerationInFlight
	}
	defer s.generating.Store(false)

	current := s.store.Get()
	moyamoya := current.Moyamoya
	if strings.TrimSpace(moyamoya) == "" {
		s.notifier.Error(msgEmptyMoyamoya)
		return Draft{}, newServiceError(opGenerateInitial, "empty_input",
			&ValidationError{Reason: "empty moyamoya", Message: msgEmptyMoyamoya})
	}

	script, err := s.generator.GenerateInitialScript(ctx, moyamoya)
	if err != nil {
		s.logError(opGenerateInitial, "script_generation_failed", err)
		s.notifier.Error(msgGenerateFailed)
		return Draft{}, newServiceError(opGenerateInitial, "script_generation_failed", err)
	}

	updated, err := s.store.Update(ctx, OperationTypeGenerate, func(d *Draft) error {
		d.Script = script
		return nil
	})
	if err != nil {
		s.logError(opGenerateInitial, "script_commit_failed", err)
		s.notifier.Error(msgGenerateFailed)
		return Draft{}, err
	}
	s.machine.MarkScriptReady()
	s.events.PublishDraftChanged(OperationTypeGenerate, updated.Version)

	questions, err := s.generator.GenerateQuestions(ctx, moyamoya, script)
	if err != nil {
		s.logError(opGenerateInitial, "question_generation_failed", err)
		s.notifier.Error(msgGenerateFailed)
		return updated, nil
	}

	updated, err = s.store.Update(ctx, OperationTypeQuestions, func(d *Draft) error {
		d.Questions = questions
		return nil
	})
	if err != nil {
		s.logError(opGenerateInitial, "question_commit_failed", err)
		s.notifier.Error(msgGenerateFailed)
		return s.store.Get(), nil
	}
	if err := s.machine.MarkQuestionsReady(); err != nil {
		s.logError(opGenerateInitial, "phase_advance_failed", err)
	}
	s.events.PublishDraftChanged(OperationTypeQuestions, updated.Version)

	s.notifier.Success(msgScriptReady)
	return updated, nil
}

// SetAnswer records the author's answer to one question. Answers are
// independently mutable and may be emptied again.
func (s *Service) SetAnswer(ctx context.Context, questionID int, answer string) (Draft, error) {
	updated, err := s.store.Update(ctx, OperationTypeAnswer, func(d *Draft) error {
		for i := range d.Questions {
			if d.Questions[i].ID == questionID {
				d.Questions[i].Answer = answer
				return nil
			}
		}
		return newServiceError(opSetAnswer, "unknown_question",
			&ValidationError{Reason: fmt.Sprintf("question %d not found", questionID)})
	})
	if err != nil {
		return Draft{}, err
	}
	s.events.PublishDraftChanged(OperationTypeAnswer, updated.Version)
	return updated, nil
}

// Refine runs the merge phase: answered questions are woven into the
// existing script and the version increments by exactly one. At least one
// non-empty trimmed answer is required; the guard fires before any backend
// call.
func (s *Service) Refine(ctx context.Context) (Draft, error) {
	if !s.generating.CompareAndSwap(false, true) {
		return Draft{}, ErrGenerationInFlight
	}
	defer s.generating.Store(false)

	current := s.store.Get()
	if !current.HasScript() {
		s.notifier.Error(msgRefineFailed)
		return Draft{}, newServiceError(opRefine, "no_script",
			&ValidationError{Reason: "no script to refine"})
	}
	if len(current.AnsweredQuestions()) == 0 {
		s.notifier.Error(msgNoAnswers)
		return Draft{}, newServiceError(opRefine, "no_answers",
			&ValidationError{Reason: "no answers provided", Message: msgNoAnswers})
	}

	merged, err := s.generator.MergeAnswers(ctx, current.Script, current.Questions)
	if err != nil {
		s.logError(opRefine, "merge_failed", err)
		s.notifier.Error(msgRefineFailed)
		return Draft{}, newServiceError(opRefine, "merge_failed", err)
	}

	updated, err := s.store.Update(ctx, OperationTypeRefine, func(d *Draft) error {
		d.Script = merged
		d.Version++
		return nil
	})
	if err != nil {
		s.logError(opRefine, "merge_commit_failed", err)
		s.notifier.Error(msgRefineFailed)
		return Draft{}, err
	}
	s.events.PublishDraftChanged(OperationTypeRefine, updated.Version)

	s.notifier.Success(msgScriptRefined)
	return updated, nil
}

// Reset destroys the draft after explicit author confirmation, clears the
// durable slot and returns the refinement phase to collecting.
func (s *Service) Reset(ctx context.Context, confirmed bool) (Draft, error) {
	if !confirmed {
		return Draft{}, newServiceError(opReset, "not_confirmed",
			&ValidationError{Reason: "reset requires explicit confirmation"})
	}
	fresh, err := s.store.Reset(ctx)
	if err != nil {
		s.logError(opReset, "store_reset_failed", err)
		return Draft{}, err
	}
	s.machine.Reset()
	s.events.PublishDraftChanged(OperationTypeReset, fresh.Version)
	return fresh, nil
}

// Artifact is the downloadable plain-text rendition of the current script.
type Artifact struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExportScript offers the raw script, section markers included, as a
// plain-text file named with the current date.
func (s *Service) ExportScript() (Artifact, error) {
	current := s.store.Get()
	if !current.HasScript() {
		return Artifact{}, newServiceError(opExport, "no_script",
			&ValidationError{Reason: "no script to export"})
	}
	filename := fmt.Sprintf("%s%s.txt", exportFilenamePrefix, s.clock().UTC().Format("2006-01-02"))
	return Artifact{
		Filename:    filename,
		ContentType: "text/plain; charset=utf-8",
		Content:     []byte(current.Script),
	}, nil
}

// GenerateSlideOutline produces the alternate slide-deck representation in a
// single shot. The outline is ephemeral and never touches the draft, but the
// call shares the in-flight guard with the other generation phases.
func (s *Service) GenerateSlideOutline(ctx context.Context, input string) (SlideOutline, error) {
	if !s.generating.CompareAndSwap(false, true) {
		return SlideOutline{}, ErrGenerationInFlight
	}
	defer s.generating.Store(false)

	if strings.TrimSpace(input) == "" {
		s.notifier.Error(msgEmptyMoyamoya)
		return SlideOutline{}, newServiceError(opSlideOutline, "empty_input",
			&ValidationError{Reason: "empty input", Message: msgEmptyMoyamoya})
	}

	outline, err := s.generator.GenerateSlideOutline(ctx, input)
	if err != nil {
		s.logError(opSlideOutline, "generation_failed", err)
		s.notifier.Error(msgGenerateFailed)
		return SlideOutline{}, newServiceError(opSlideOutline, "generation_failed", err)
	}
	return outline, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("draft service error", attrs...)
}
