package dictionary

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// FindApprover looks up an active approver entry by email (case-insensitive).
func (r *Repo) FindApprover(ctx context.Context, email string) (*ApproverEntry, error) {
	var e ApproverEntry
	err := r.db.WithContext(ctx).
		Where("lower(email) = ? AND active = ?", strings.ToLower(email), true).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CanActFor reports whether actor may decide on behalf of the named approver,
// either as that approver or as one of their registered backups.
func (r *Repo) CanActFor(ctx context.Context, actor, approver string) (bool, error) {
	if strings.EqualFold(actor, approver) {
		return true, nil
	}
	e, err := r.FindApprover(ctx, approver)
	if err != nil || e == nil {
		return false, err
	}
	for _, b := range e.GetBackups() {
		if strings.EqualFold(b, actor) {
			return true, nil
		}
	}
	return false, nil
}

// AccountExists reports whether an active account code is registered.
func (r *Repo) AccountExists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AccountsMaster{}).
		Where("code = ? AND active = ?", code, true).Count(&n).Error
	return n > 0, err
}

// FacilityExists reports whether an active facility code is registered.
func (r *Repo) FacilityExists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Facility{}).
		Where("code = ? AND active = ?", code, true).Count(&n).Error
	return n > 0, err
}
