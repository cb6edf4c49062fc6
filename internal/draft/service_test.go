package draft

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeGenerator struct {
	script       string
	scriptErr    error
	questions    []Question
	questionsErr error
	merged       string
	mergedErr    error
	outline      SlideOutline
	outlineErr   error

	scriptCalls   int
	questionCalls int
	mergeCalls    int
	outlineCalls  int

	block chan struct{}
}

func (g *fakeGenerator) GenerateInitialScript(_ context.Context, _ string) (string, error) {
	g.scriptCalls++
	if g.block != nil {
		<-g.block
	}
	return g.script, g.scriptErr
}

func (g *fakeGenerator) GenerateQuestions(_ context.Context, _, _ string) ([]Question, error) {
	g.questionCalls++
	return g.questions, g.questionsErr
}

func (g *fakeGenerator) MergeAnswers(_ context.Context, _ string, _ []Question) (string, error) {
	g.mergeCalls++
	return g.merged, g.mergedErr
}

func (g *fakeGenerator) GenerateSlideOutline(_ context.Context, _ string) (SlideOutline, error) {
	g.outlineCalls++
	return g.outline, g.outlineErr
}

type recordingNotifier struct {
	successes []string
	errors    []string
}

func (n *recordingNotifier) Success(message string) { n.successes = append(n.successes, message) }
func (n *recordingNotifier) Error(message string)   { n.errors = append(n.errors, message) }

type recordingPublisher struct {
	operations []OperationType
}

func (p *recordingPublisher) PublishDraftChanged(op OperationType, _ int64) {
	p.operations = append(p.operations, op)
}

func newTestService(t *testing.T, store *Store, generator Generator, notifier Notifier) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Store:     store,
		Generator: generator,
		Notifier:  notifier,
		Clock:     func() time.Time { return time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func seedMoyamoya(t *testing.T, store *Store, text string) {
	t.Helper()
	mustUpdate(t, store, OperationTypeInput, func(d *Draft) error {
		d.Moyamoya = text
		return nil
	})
}

func TestGenerateInitialKeepsVersionAndProducesQuestions(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	seedMoyamoya(t, store, "伝えたいことがまとまらない")
	generator := &fakeGenerator{
		script: "■ 導入\n本文",
		questions: []Question{
			{ID: 1, Question: "具体例は？", Reason: "説得力"},
			{ID: 2, Question: "聞き手は誰？", Reason: "焦点"},
			{ID: 3, Question: "結論は？", Reason: "構成"},
		},
	}
	notifier := &recordingNotifier{}
	service := newTestService(t, store, generator, notifier)

	createdAt := store.Get().CreatedAt

	updated, err := service.GenerateInitial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Version != 1 {
		t.Fatalf("initial generation must keep version 1, got %d", updated.Version)
	}
	if updated.Script != "■ 導入\n本文" {
		t.Fatalf("unexpected script: %q", updated.Script)
	}
	if len(updated.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(updated.Questions))
	}
	if !updated.CreatedAt.Equal(createdAt) {
		t.Fatalf("createdAt must not change on generation")
	}
	if service.Phase() != PhaseDeepening {
		t.Fatalf("expected deepening phase, got %s", service.Phase())
	}
	if generator.scriptCalls != 1 || generator.questionCalls != 1 {
		t.Fatalf("expected one call per phase, got %d/%d", generator.scriptCalls, generator.questionCalls)
	}
	if len(notifier.successes) != 1 || notifier.successes[0] != msgScriptReady {
		t.Fatalf("expected success notification %q, got %v", msgScriptReady, notifier.successes)
	}
}

func TestGenerateInitialRejectsEmptyInputWithoutBackendCall(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	seedMoyamoya(t, store, "   \n\t ")
	generator := &fakeGenerator{}
	notifier := &recordingNotifier{}
	service := newTestService(t, store, generator, notifier)

	_, err := service.GenerateInitial(context.Background())
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if generator.scriptCalls != 0 || generator.questionCalls != 0 {
		t.Fatalf("blank input must not reach the backend")
	}
	if len(notifier.errors) != 1 || notifier.errors[0] != msgEmptyMoyamoya {
		t.Fatalf("expected %q, got %v", msgEmptyMoyamoya, notifier.errors)
	}
}

func TestGenerateInitialKeepsScriptWhenQuestionsFail(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	seedMoyamoya(t, store, "もやもや")
	generator := &fakeGenerator{
		script:       "■ 導入\n本文",
		questionsErr: &BackendError{Err: errors.New("timeout")},
	}
	notifier := &recordingNotifier{}
	service := newTestService(t, store, generator, notifier)

	updated, err := service.GenerateInitial(context.Background())
	if err != nil {
		t.Fatalf("partial success must not surface as an error: %v", err)
	}
	if updated.Script != "■ 導入\n本文" {
		t.Fatalf("script commit must survive a question failure")
	}
	if len(updated.Questions) != 0 {
		t.Fatalf("expected no questions, got %d", len(updated.Questions))
	}
	if service.Phase() != PhaseReviewing {
		t.Fatalf("expected reviewing phase, got %s", service.Phase())
	}
	if len(notifier.errors) != 1 || notifier.errors[0] != msgGenerateFailed {
		t.Fatalf("expected error notification, got %v", notifier.errors)
	}
	if len(notifier.successes) != 0 {
		t.Fatalf("partial success must not claim completion: %v", notifier.successes)
	}
}

func TestGenerateInitialSurfacesScriptFailure(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	seedMoyamoya(t, store, "もやもや")
	generator := &fakeGenerator{scriptErr: &BackendError{Err: errors.New("unreachable")}}
	notifier := &recordingNotifier{}
	service := newTestService(t, store, generator, notifier)

	_, err := service.GenerateInitial(context.Background())
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if store.Get().Script != "" {
		t.Fatalf("failed generation must not commit a script")
	}
	if service.Phase() != PhaseCollecting {
		t.Fatalf("expected collecting phase, got %s", service.Phase())
	}
	if generator.questionCalls != 0 {
		t.Fatalf("script failure must short-circuit the question phase")
	}
}

func TestConcurrentGenerationIsRejected(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	seedMoyamoya(t, store, "もやもや")
	generator := &fakeGenerator{
		script: "■ 導入\n本文",
		block:  make(chan struct{}),
	}
	service := newTestService(t, store, generator, &recordingNotifier{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := service.GenerateInitial(context.Background())
		firstDone <- err
	}()

	// Wait for the first invocation to hold the guard.
	deadline := time.After(2 * time.Second)
	for service.generating.Load() == false {
		select {
		case <-deadline:
			t.Fatalf("first invocation never started")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := service.GenerateInitial(context.Background()); !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("expected ErrGenerationInFlight, got %v", err)
	}
	if _, err := service.Refine(context.Background()); !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("refine must share the in-flight guard, got %v", err)
	}

	close(generator.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first invocation failed: %v", err)
	}
	if generator.scriptCalls != 1 {
		t.Fatalf("rejected invocations must not reach the backend, got %d calls", generator.scriptCalls)
	}
}

func TestRefineIncrementsVersionAndKeepsQuestions(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	questions := []Question{
		{ID: 1, Question: "Q1", Answer: "回答あり"},
		{ID: 2, Question: "Q2", Answer: ""},
	}
	mustUpdate(t, store, OperationTypeGenerate, func(d *Draft) error {
		d.Moyamoya = "もやもや"
		d.Script = "■ 導入\n旧原稿"
		d.Questions = questions
		return nil
	})
	generator := &fakeGenerator{merged: "■ 導入\n新原稿"}
	notifier := &recordingNotifier{}
	service := newTestService(t, store, generator, notifier)

	updated, err := service.Refine(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("merge must increment the version by exactly one, got %d", updated.Version)
	}
	if updated.Script != "■ 導入\n新原稿" {
		t.Fatalf("unexpected script: %q", updated.Script)
	}
	if len(updated.Questions) != 2 || updated.Questions[1].Answer != "" {
		t.Fatalf("merge must never alter the question set: %+v", updated.Questions)
	}
	if generator.mergeCalls != 1 {
		t.Fatalf("expected one merge call, got %d", generator.mergeCalls)
	}
	if len(notifier.successes) != 1 || notifier.successes[0] != msgScriptRefined {
		t.Fatalf("expected %q, got %v", msgScriptRefined, notifier.successes)
	}
}

func TestRefineRejectsAllEmptyAnswersWithoutBackendCall(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	mustUpdate(t, store, OperationTypeGenerate, func(d *Draft) error {
		d.Script = "■ 導入\n原稿"
		d.Questions = []Question{
			{ID: 1, Question: "Q1", Answer: "   "},
			{ID: 2, Question: "Q2", Answer: ""},
		}
		return nil
	})
	generator := &fakeGenerator{}
	notifier := &recordingNotifier{}
	service := newTestService(t, store, generator, notifier)

	_, err := service.Refine(context.Background())
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if generator.mergeCalls != 0 {
		t.Fatalf("empty answers must not reach the backend")
	}
	if len(notifier.errors) != 1 || notifier.errors[0] != msgNoAnswers {
		t.Fatalf("expected %q, got %v", msgNoAnswers, notifier.errors)
	}
	if store.Get().Version != 1 {
		t.Fatalf("rejected merge must not bump the version")
	}
}

func TestRefineRequiresScript(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	generator := &fakeGenerator{}
	service := newTestService(t, store, generator, &recordingNotifier{})

	_, err := service.Refine(context.Background())
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if generator.mergeCalls != 0 {
		t.Fatalf("missing script must not reach the backend")
	}
}

func TestSetAnswerUpdatesOnlyTargetQuestion(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	mustUpdate(t, store, OperationTypeQuestions, func(d *Draft) error {
		d.Questions = []Question{
			{ID: 1, Question: "Q1"},
			{ID: 2, Question: "Q2"},
		}
		return nil
	})
	service := newTestService(t, store, &fakeGenerator{}, &recordingNotifier{})

	updated, err := service.SetAnswer(context.Background(), 2, "具体的な回答")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Questions[0].Answer != "" || updated.Questions[1].Answer != "具体的な回答" {
		t.Fatalf("unexpected answers: %+v", updated.Questions)
	}

	if _, err := service.SetAnswer(context.Background(), 99, "x"); err == nil {
		t.Fatalf("expected unknown question id to be rejected")
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	mustUpdate(t, store, OperationTypeGenerate, func(d *Draft) error {
		d.Script = "■ 導入\n原稿"
		return nil
	})
	service := newTestService(t, store, &fakeGenerator{}, &recordingNotifier{})

	if _, err := service.Reset(context.Background(), false); err == nil {
		t.Fatalf("unconfirmed reset must be rejected")
	}
	if store.Get().Script == "" {
		t.Fatalf("rejected reset must not clear the draft")
	}

	fresh, err := service.Reset(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh.Script != "" || fresh.Moyamoya != "" || len(fresh.Questions) != 0 {
		t.Fatalf("expected empty draft after reset, got %+v", fresh)
	}
	if service.Phase() != PhaseCollecting {
		t.Fatalf("expected collecting phase after reset, got %s", service.Phase())
	}
}

func TestServiceRestoresPhaseFromRecoveredDraft(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db, nil)
	mustUpdate(t, store, OperationTypeGenerate, func(d *Draft) error {
		d.Moyamoya = "もやもや"
		d.Script = "■ 導入\n原稿"
		return nil
	})

	reopened := newTestStore(t, db, nil)
	service := newTestService(t, reopened, &fakeGenerator{}, &recordingNotifier{})
	if service.Phase() != PhaseReviewing {
		t.Fatalf("expected reviewing phase after reload, got %s", service.Phase())
	}
}

func TestExportScriptNamesFileWithCurrentDate(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	mustUpdate(t, store, OperationTypeGenerate, func(d *Draft) error {
		d.Script = "■ 導入\n本文"
		return nil
	})
	service := newTestService(t, store, &fakeGenerator{}, &recordingNotifier{})

	artifact, err := service.ExportScript()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Filename != exportFilenamePrefix+"2026-02-14.txt" {
		t.Fatalf("unexpected filename: %q", artifact.Filename)
	}
	if !strings.HasPrefix(artifact.ContentType, "text/plain") {
		t.Fatalf("unexpected content type: %q", artifact.ContentType)
	}
	if string(artifact.Content) != "■ 導入\n本文" {
		t.Fatalf("unexpected content: %q", artifact.Content)
	}
}

func TestExportScriptRejectsEmptyDraft(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	service := newTestService(t, store, &fakeGenerator{}, &recordingNotifier{})

	if _, err := service.ExportScript(); err == nil {
		t.Fatalf("expected export of an empty draft to be rejected")
	}
}

func TestGenerateSlideOutlineLeavesDraftUntouched(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	generator := &fakeGenerator{
		outline: SlideOutline{
			Title:  "発表タイトル",
			Slides: []Slide{{Title: "導入", Content: "背景"}},
		},
	}
	service := newTestService(t, store, generator, &recordingNotifier{})

	before := store.Get()
	outline, err := service.GenerateSlideOutline(context.Background(), "もやもや")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outline.Title != "発表タイトル" || len(outline.Slides) != 1 {
		t.Fatalf("unexpected outline: %+v", outline)
	}
	after := store.Get()
	if after.Version != before.Version || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("slide outline generation must not mutate the draft")
	}
}

func TestEventsPublishedPerCommittedMutation(t *testing.T) {
	store := newTestStore(t, newTestDatabase(t), nil)
	generator := &fakeGenerator{
		script:    "■ 導入\n本文",
		questions: []Question{{ID: 1, Question: "Q1"}},
		merged:    "■ 導入\n新本文",
	}
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Store:     store,
		Generator: generator,
		Events:    publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	if _, err := service.UpdateMoyamoya(context.Background(), "もやもや"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.GenerateInitial(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.SetAnswer(context.Background(), 1, "回答"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.Refine(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []OperationType{
		OperationTypeInput,
		OperationTypeGenerate,
		OperationTypeQuestions,
		OperationTypeAnswer,
		OperationTypeRefine,
	}
	if len(publisher.operations) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), publisher.operations)
	}
	for i, op := range want {
		if publisher.operations[i] != op {
			t.Fatalf("event %d: expected %s, got %s", i, op, publisher.operations[i])
		}
	}
}
