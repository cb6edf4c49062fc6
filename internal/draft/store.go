package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errNilMutator        = errors.New("mutator function is required")
	errVersionDecrement  = errors.New("draft version must never decrease")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for revision records.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig wires the document store dependencies.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	SlotKey    string
}

// Store owns the single draft aggregate and writes every committed mutation
// through to the durable slot. Mutations are total: the prior snapshot is
// fully replaced or the store stays untouched.
type Store struct {
	mu      sync.Mutex
	db      *gorm.DB
	clock   func() time.Time
	ids     IDProvider
	logger  *zap.Logger
	slotKey string
	current Draft
}

// snapshotPayload is the serialized projection written to the durable slot.
// Timestamps travel as RFC 3339 strings so a reloaded draft round-trips the
// persisted fields byte for byte.
type snapshotPayload struct {
	Moyamoya  string     `json:"moyamoya"`
	Script    string     `json:"script"`
	Questions []Question `json:"questions"`
	Version   int64      `json:"version"`
	CreatedAt string     `json:"createdAt"`
	UpdatedAt string     `json:"updatedAt"`
}

// NewStore restores the draft from the durable slot, or materializes an
// empty draft when the slot is missing or unreadable. A corrupt payload is
// discarded silently: it is logged and cleared, never fatal to startup.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	slotKey := cfg.SlotKey
	if slotKey == "" {
		slotKey = DefaultSlotKey
	}

	store := &Store{
		db:      cfg.Database,
		clock:   clock,
		ids:     cfg.IDProvider,
		logger:  logger,
		slotKey: slotKey,
	}

	recovered, err := store.load()
	if err != nil {
		var persistenceErr *PersistenceError
		if !errors.As(err, &persistenceErr) {
			return nil, err
		}
		logger.Warn("discarding unreadable draft snapshot",
			zap.String("slot_key", slotKey),
			zap.Error(err))
		if deleteErr := store.db.Where("slot_key = ?", slotKey).
			Delete(&SnapshotRecord{}).Error; deleteErr != nil {
			logger.Warn("failed to clear corrupt draft slot", zap.Error(deleteErr))
		}
		recovered = nil
	}

	if recovered != nil {
		store.current = *recovered
	} else {
		store.current = emptyDraft(clock().UTC())
	}

	return store, nil
}

const (
	opStoreNew    = "draft.store.new"
	opStoreUpdate = "draft.store.update"
	opStoreReset  = "draft.store.reset"
)

func emptyDraft(now time.Time) Draft {
	return Draft{
		Questions: make([]Question, 0),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Get returns an immutable snapshot of the current draft.
func (s *Store) Get() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Update applies a pure transformation to a copy of the current draft,
// stamps updatedAt, persists the result together with a revision record in
// one transaction, and only then replaces the in-memory snapshot. A failed
// persistence write leaves no observable change.
func (s *Store) Update(ctx context.Context, op OperationType, mutate func(*Draft) error) (Draft, error) {
	if mutate == nil {
		return Draft{}, newServiceError(opStoreUpdate, "missing_mutator", errNilMutator)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.current.Clone()
	if err := mutate(&work); err != nil {
		return Draft{}, err
	}
	if work.Version < s.current.Version {
		return Draft{}, newServiceError(opStoreUpdate, "version_decrement", errVersionDecrement)
	}
	work.CreatedAt = s.current.CreatedAt
	work.UpdatedAt = s.clock().UTC()

	if err := s.persist(ctx, op, work); err != nil {
		return Draft{}, err
	}

	s.current = work
	return work.Clone(), nil
}

// Reset replaces the draft with a fresh empty one, deletes the durable slot
// and records the reset in the revision trail.
func (s *Store) Reset(ctx context.Context) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := emptyDraft(s.clock().UTC())

	revisionID, err := s.ids.NewID()
	if err != nil {
		return Draft{}, newServiceError(opStoreReset, "id_generation_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("slot_key = ?", s.slotKey).Delete(&SnapshotRecord{}).Error; err != nil {
			return newServiceError(opStoreReset, "slot_delete_failed", err)
		}
		revision := Revision{
			RevisionID:       revisionID,
			SlotKey:          s.slotKey,
			Operation:        OperationTypeReset,
			Version:          fresh.Version,
			AppliedAtSeconds: fresh.UpdatedAt.Unix(),
		}
		if err := tx.Create(&revision).Error; err != nil {
			return newServiceError(opStoreReset, "revision_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Draft{}, txErr
	}

	s.current = fresh
	return fresh.Clone(), nil
}

func (s *Store) persist(ctx context.Context, op OperationType, snapshot Draft) error {
	payload := snapshotPayload{
		Moyamoya:  snapshot.Moyamoya,
		Script:    snapshot.Script,
		Questions: snapshot.Questions,
		Version:   snapshot.Version,
		CreatedAt: snapshot.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: snapshot.UpdatedAt.Format(time.RFC3339Nano),
	}
	if payload.Questions == nil {
		payload.Questions = make([]Question, 0)
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		return newServiceError(opStoreUpdate, "snapshot_marshal_failed", err)
	}

	revisionID, err := s.ids.NewID()
	if err != nil {
		return newServiceError(opStoreUpdate, "id_generation_failed", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := SnapshotRecord{
			SlotKey:          s.slotKey,
			PayloadJSON:      string(serialized),
			Version:          snapshot.Version,
			UpdatedAtSeconds: snapshot.UpdatedAt.Unix(),
		}
		if err := tx.Save(&record).Error; err != nil {
			return newServiceError(opStoreUpdate, "snapshot_save_failed", err)
		}
		revision := Revision{
			RevisionID:       revisionID,
			SlotKey:          s.slotKey,
			Operation:        op,
			Version:          snapshot.Version,
			AppliedAtSeconds: snapshot.UpdatedAt.Unix(),
		}
		if err := tx.Create(&revision).Error; err != nil {
			return newServiceError(opStoreUpdate, "revision_insert_failed", err)
		}
		return nil
	})
}

func (s *Store) load() (*Draft, error) {
	var record SnapshotRecord
	err := s.db.Where("slot_key = ?", s.slotKey).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newServiceError(opStoreNew, "slot_read_failed", err)
	}

	var payload snapshotPayload
	if err := json.Unmarshal([]byte(record.PayloadJSON), &payload); err != nil {
		return nil, &PersistenceError{Err: err}
	}
	createdAt, err := time.Parse(time.RFC3339Nano, payload.CreatedAt)
	if err != nil {
		return nil, &PersistenceError{Err: fmt.Errorf("createdAt: %w", err)}
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, payload.UpdatedAt)
	if err != nil {
		return nil, &PersistenceError{Err: fmt.Errorf("updatedAt: %w", err)}
	}
	if payload.Version < 1 {
		return nil, &PersistenceError{Err: fmt.Errorf("version %d out of range", payload.Version)}
	}

	questions := payload.Questions
	if questions == nil {
		questions = make([]Question, 0)
	}

	return &Draft{
		Moyamoya:  payload.Moyamoya,
		Script:    payload.Script,
		Questions: questions,
		Version:   payload.Version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}
