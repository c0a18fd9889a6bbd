package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrUnknownStep is returned when an entry references a step code that is
// not in the catalog. No history row is written in that case.
var ErrUnknownStep = errors.New("workflow: unknown step code")

// Entry is one action to record on the trail.
type Entry struct {
	StepCode   string
	RequestKey string
	ExecutedBy string
	Success    bool
	ErrorCode  string
	Prev       any // marshaled to JSON when non-nil
	New        any
	Notes      string
}

// Logger appends to the workflow history table. Callers decide whether a
// logging failure should fail the business action; mutations of reference
// data ignore the error on purpose and count it instead.
type Logger struct {
	db    *gorm.DB
	mu    sync.RWMutex
	steps map[string]uint // code -> step id
	now   func() time.Time
}

func NewLogger(db *gorm.DB) *Logger {
	return &Logger{db: db, steps: map[string]uint{}, now: time.Now}
}

func (l *Logger) stepID(code string) (uint, error) {
	l.mu.RLock()
	id, ok := l.steps[code]
	l.mu.RUnlock()
	if ok {
		return id, nil
	}
	var s WorkflowStep
	err := l.db.Where("code = ?", code).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownStep, code)
	}
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	l.steps[code] = s.ID
	l.mu.Unlock()
	return s.ID, nil
}

func snapshot(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// Log appends one history row.
func (l *Logger) Log(ctx context.Context, e Entry) error {
	id, err := l.stepID(e.StepCode)
	if err != nil {
		return err
	}
	prev, err := snapshot(e.Prev)
	if err != nil {
		return err
	}
	next, err := snapshot(e.New)
	if err != nil {
		return err
	}
	row := WorkflowHistory{
		RequestKey: e.RequestKey,
		StepID:     id,
		ExecutedBy: e.ExecutedBy,
		ExecutedAt: l.now().UTC(),
		Success:    e.Success,
		ErrorCode:  e.ErrorCode,
		PrevValue:  prev,
		NewValue:   next,
		Notes:      e.Notes,
	}
	return l.db.WithContext(ctx).Create(&row).Error
}

// History returns the trail for one key, oldest first, step preloaded.
func (l *Logger) History(ctx context.Context, requestKey string) ([]WorkflowHistory, error) {
	var rows []WorkflowHistory
	err := l.db.WithContext(ctx).
		Preload("Step").
		Where("request_key = ?", requestKey).
		Order("executed_at asc, id asc").
		Find(&rows).Error
	return rows, err
}

// DictKey builds the history key for a dictionary row, e.g. DICT-ACCOUNT-7.
func DictKey(kind string, id uint) string {
	return fmt.Sprintf("DICT-%s-%d", strings.ToUpper(kind), id)
}
