package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/moyamoya-lab/moyamoya/backend/internal/draft"
	"go.uber.org/zap"
)

var (
	errMissingBackend = errors.New("generation: text backend is required")
	// errNoMergeContext marks a caller contract violation: the merge phase
	// must only be invoked when at least one answer is non-empty.
	errNoMergeContext = errors.New("generation: merge invoked without answered questions")
)

// CompletionRequest is the normalized request passed to a text backend.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	Temperature  float32
	TopP         float32
	MaxTokens    int
}

// TextGenerator is the capability contract of the external text-generation
// backend: a prompt in, free text out. Structured responses are requested
// through the prompt and validated here, at the adapter boundary.
type TextGenerator interface {
	CompleteText(ctx context.Context, req CompletionRequest) (string, error)
}

const (
	defaultTemperature = 0.7
	defaultTopP        = 0.95
	scriptMaxTokens    = 4096
	questionMaxTokens  = 2048
)

// Pipeline implements the three stateless generation phases plus the
// alternate slide-outline shot. It never mutates the draft: each operation
// reports values the caller commits through the document store, and no
// failed call is retried internally.
type Pipeline struct {
	backend TextGenerator
	logger  *zap.Logger
}

// NewPipeline wires the pipeline to a text backend.
func NewPipeline(backend TextGenerator, logger *zap.Logger) (*Pipeline, error) {
	if backend == nil {
		return nil, errMissingBackend
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{backend: backend, logger: logger}, nil
}

// GenerateInitialScript runs phase 1: moyamoya in, five-section script out.
// Empty input is rejected before any backend contact. The response is taken
// as-is: a script without section markers renders as a single unlabeled
// section downstream.
func (p *Pipeline) GenerateInitialScript(ctx context.Context, moyamoya string) (string, error) {
	if strings.TrimSpace(moyamoya) == "" {
		return "", &draft.ValidationError{Reason: "empty input"}
	}

	response, err := p.backend.CompleteText(ctx, CompletionRequest{
		Prompt:      BuildInitialScriptPrompt(moyamoya),
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		MaxTokens:   scriptMaxTokens,
	})
	if err != nil {
		return "", &draft.BackendError{Err: err}
	}

	script := strings.TrimSpace(response)
	if !strings.Contains(script, draft.SectionMarker) {
		p.logger.Warn("generated script carries no section markers; accepting as single section")
	}
	return script, nil
}

// questionPayload mirrors the schema-constrained question object. Pointer
// fields distinguish absent keys from empty values during validation.
type questionPayload struct {
	ID       *int    `json:"id"`
	Question *string `json:"question"`
	Reason   *string `json:"reason"`
}

// GenerateQuestions runs phase 2: it requests 3 to 5 deepening questions as
// a JSON array and validates the decoded shape before admitting it. Ids are
// taken as the backend assigned them, not renumbered, and every question is
// augmented with an empty answer slot.
func (p *Pipeline) GenerateQuestions(ctx context.Context, moyamoya, script string) ([]draft.Question, error) {
	if strings.TrimSpace(moyamoya) == "" {
		return nil, &draft.ValidationError{Reason: "empty input"}
	}
	if strings.TrimSpace(script) == "" {
		return nil, &draft.ValidationError{Reason: "empty script"}
	}

	response, err := p.backend.CompleteText(ctx, CompletionRequest{
		Prompt:      BuildQuestionPrompt(script),
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		MaxTokens:   questionMaxTokens,
	})
	if err != nil {
		return nil, &draft.BackendError{Err: err}
	}

	questions, err := parseQuestions(response)
	if err != nil {
		return nil, &draft.ParseError{Err: err}
	}
	return questions, nil
}

func parseQuestions(response string) ([]draft.Question, error) {
	raw, err := extractJSON(response, '[', ']')
	if err != nil {
		return nil, err
	}

	var payloads []questionPayload
	if err := json.Unmarshal([]byte(raw), &payloads); err != nil {
		return nil, fmt.Errorf("question array malformed: %w", err)
	}
	if len(payloads) == 0 {
		return nil, errors.New("question array is empty")
	}

	questions := make([]draft.Question, 0, len(payloads))
	for index, payload := range payloads {
		if payload.ID == nil || payload.Question == nil || payload.Reason == nil {
			return nil, fmt.Errorf("question %d missing required fields", index)
		}
		if strings.TrimSpace(*payload.Question) == "" {
			return nil, fmt.Errorf("question %d has empty question text", index)
		}
		questions = append(questions, draft.Question{
			ID:       *payload.ID,
			Question: *payload.Question,
			Reason:   *payload.Reason,
			Answer:   "",
		})
	}
	return questions, nil
}

// MergeAnswers runs phase 3: the answered questions are woven into the
// existing script and the full response replaces it. The caller guarantees
// at least one non-empty answer; violating that guarantee is a programming
// error, not a recoverable pipeline condition.
func (p *Pipeline) MergeAnswers(ctx context.Context, script string, questions []draft.Question) (string, error) {
	answered := draft.Draft{Questions: questions}.AnsweredQuestions()
	if len(answered) == 0 {
		return "", errNoMergeContext
	}

	response, err := p.backend.CompleteText(ctx, CompletionRequest{
		Prompt:      BuildMergePrompt(script, answered),
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		MaxTokens:   scriptMaxTokens,
	})
	if err != nil {
		return "", &draft.BackendError{Err: err}
	}

	return strings.TrimSpace(response), nil
}

// slideOutlinePayload mirrors the one-shot outline response.
type slideOutlinePayload struct {
	Title  *string `json:"title"`
	Slides []struct {
		Title   *string `json:"title"`
		Content *string `json:"content"`
		Notes   string  `json:"notes"`
	} `json:"slides"`
}

// GenerateSlideOutline produces the alternate titled-slides representation
// from raw input in a single call.
func (p *Pipeline) GenerateSlideOutline(ctx context.Context, input string) (draft.SlideOutline, error) {
	if strings.TrimSpace(input) == "" {
		return draft.SlideOutline{}, &draft.ValidationError{Reason: "empty input"}
	}

	response, err := p.backend.CompleteText(ctx, CompletionRequest{
		Prompt:      BuildSlideOutlinePrompt(input),
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		MaxTokens:   scriptMaxTokens,
	})
	if err != nil {
		return draft.SlideOutline{}, &draft.BackendError{Err: err}
	}

	outline, err := parseSlideOutline(response)
	if err != nil {
		return draft.SlideOutline{}, &draft.ParseError{Err: err}
	}
	return outline, nil
}

func parseSlideOutline(response string) (draft.SlideOutline, error) {
	raw, err := extractJSON(response, '{', '}')
	if err != nil {
		return draft.SlideOutline{}, err
	}

	var payload slideOutlinePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return draft.SlideOutline{}, fmt.Errorf("outline object malformed: %w", err)
	}
	if payload.Title == nil || strings.TrimSpace(*payload.Title) == "" {
		return draft.SlideOutline{}, errors.New("outline missing title")
	}
	if len(payload.Slides) == 0 {
		return draft.SlideOutline{}, errors.New("outline has no slides")
	}

	outline := draft.SlideOutline{
		Title:  *payload.Title,
		Slides: make([]draft.Slide, 0, len(payload.Slides)),
	}
	for index, slide := range payload.Slides {
		if slide.Title == nil || slide.Content == nil {
			return draft.SlideOutline{}, fmt.Errorf("slide %d missing required fields", index)
		}
		outline.Slides = append(outline.Slides, draft.Slide{
			Title:   *slide.Title,
			Content: *slide.Content,
			Notes:   slide.Notes,
		})
	}
	return outline, nil
}

// extractJSON returns the span between the first opening and the last
// closing delimiter. Models wrap JSON in prose or code fences often enough
// that strict whole-response decoding would reject valid payloads.
func extractJSON(response string, open, close byte) (string, error) {
	start := strings.IndexByte(response, open)
	end := strings.LastIndexByte(response, close)
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("response contains no %c...%c payload", open, close)
	}
	return response[start : end+1], nil
}
