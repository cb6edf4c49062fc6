package draft

import (
	"strings"
	"time"
)

// DefaultSlotKey is the durable slot that holds the single persisted draft.
const DefaultSlotKey = "moyamoya_v3_draft"

// SectionMarker is the fixed delimiter that separates the five canonical
// script sections.
const SectionMarker = "■"

// OperationType enumerates the mutations recorded in the revision trail.
type OperationType string

const (
	// OperationTypeInput records an edit to the raw moyamoya text.
	OperationTypeInput OperationType = "input"
	// OperationTypeGenerate records a committed initial script.
	OperationTypeGenerate OperationType = "generate"
	// OperationTypeQuestions records a committed deepening-question set.
	OperationTypeQuestions OperationType = "questions"
	// OperationTypeAnswer records an author answer to one question.
	OperationTypeAnswer OperationType = "answer"
	// OperationTypeRefine records a merged script revision.
	OperationTypeRefine OperationType = "refine"
	// OperationTypeReset records an explicit author reset.
	OperationTypeReset OperationType = "reset"
)

// Question is one deepening question produced by the generation pipeline.
// Identifiers are taken as the backend assigned them and are only unique
// within the current question set.
type Question struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Reason   string `json:"reason"`
	Answer   string `json:"answer"`
}

// Draft is the root aggregate: the author input, the generated script, the
// current question set and the version bookkeeping. A single draft exists
// per deployment.
type Draft struct {
	Moyamoya  string
	Script    string
	Questions []Question
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so store callers can never alias the owned
// question slice.
func (d Draft) Clone() Draft {
	copied := d
	if d.Questions != nil {
		copied.Questions = make([]Question, len(d.Questions))
		copy(copied.Questions, d.Questions)
	}
	return copied
}

// HasScript reports whether phase 1 has produced a script.
func (d Draft) HasScript() bool {
	return strings.TrimSpace(d.Script) != ""
}

// AnsweredQuestions returns the questions whose trimmed answer is non-empty,
// in display order.
func (d Draft) AnsweredQuestions() []Question {
	answered := make([]Question, 0, len(d.Questions))
	for _, question := range d.Questions {
		if strings.TrimSpace(question.Answer) != "" {
			answered = append(answered, question)
		}
	}
	return answered
}

// Section is one labeled block of the generated script.
type Section struct {
	Label string
	Body  string
}

// SplitSections splits a script on the section marker. The first line of
// each part becomes the label, the remainder the body. A script without
// markers degenerates to a single unlabeled section; that is accepted, not
// an error.
func SplitSections(script string) []Section {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if !strings.Contains(script, SectionMarker) {
		return []Section{{Body: strings.TrimSpace(script)}}
	}
	parts := strings.Split(script, SectionMarker)
	sections := make([]Section, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		lines := strings.SplitN(part, "\n", 2)
		section := Section{Label: strings.TrimSpace(lines[0])}
		if len(lines) == 2 {
			section.Body = strings.TrimSpace(lines[1])
		}
		sections = append(sections, section)
	}
	return sections
}

// Slide is one titled slide of the alternate outline representation.
type Slide struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Notes   string `json:"notes,omitempty"`
}

// SlideOutline is the alternate, ephemeral document shape: a titled deck of
// slides generated in a single shot. It is never persisted.
type SlideOutline struct {
	Title  string  `json:"title"`
	Slides []Slide `json:"slides"`
}

// SnapshotRecord is the persisted projection of the draft, one row per slot.
type SnapshotRecord struct {
	SlotKey          string `gorm:"column:slot_key;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SnapshotRecord) TableName() string {
	return "draft_snapshots"
}

// Revision captures an append-only audit trail of draft mutations.
type Revision struct {
	RevisionID       string        `gorm:"column:revision_id;primaryKey;size:190;not null"`
	SlotKey          string        `gorm:"column:slot_key;size:190;not null;index:idx_revisions_slot_time,priority:1"`
	Operation        OperationType `gorm:"column:op;not null"`
	Version          int64         `gorm:"column:version;not null"`
	AppliedAtSeconds int64         `gorm:"column:applied_at_s;not null;index:idx_revisions_slot_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Revision) TableName() string {
	return "draft_revisions"
}
