package request

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("request not found")
	// ErrInvalidState means the request exists but is already decided.
	ErrInvalidState = errors.New("request not in a decidable state")
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// Create persists a request and its coding lines in one transaction.
func (r *Repo) Create(ctx context.Context, req *ApprovalRequest) error {
	if req.Status == "" {
		req.Status = StatusPending
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(req).Error
	})
}

// Get loads one request by its public id, lines included.
func (r *Repo) Get(ctx context.Context, requestID string) (*ApprovalRequest, error) {
	var req ApprovalRequest
	err := r.db.WithContext(ctx).
		Preload("Lines", func(tx *gorm.DB) *gorm.DB { return tx.Order("line_no asc") }).
		Where("request_id = ?", requestID).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListFilter narrows List results. Zero values mean no filter.
type ListFilter struct {
	Status    string
	Requester string
	Approver  string
	Vendor    string // substring match
	Limit     int
	Offset    int
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]ApprovalRequest, int64, error) {
	q := r.db.WithContext(ctx).Model(&ApprovalRequest{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Requester != "" {
		q = q.Where("lower(requester) = ?", strings.ToLower(f.Requester))
	}
	if f.Approver != "" {
		q = q.Where("lower(approver) = ?", strings.ToLower(f.Approver))
	}
	if f.Vendor != "" {
		q = q.Where("vendor_name LIKE ?", "%"+f.Vendor+"%")
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []ApprovalRequest
	err := q.Order("id desc").Limit(clampLimit(f.Limit)).Offset(f.Offset).Find(&rows).Error
	return rows, total, err
}

// clampLimit applies the default page size and the hard cap.
func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 500:
		return 500
	}
	return n
}

// Decide moves a request from pending/in-review to a terminal status.
// The status check rides on the UPDATE itself, so two racing decisions
// cannot both win; the loser gets ErrInvalidState.
func (r *Repo) Decide(ctx context.Context, requestID, to, actor, comments string, when time.Time) (*ApprovalRequest, error) {
	if to != StatusApproved && to != StatusRejected {
		return nil, errors.New("decide: bad target status " + to)
	}
	var out *ApprovalRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": to}
		if to == StatusApproved {
			updates["approved_date"] = when.UTC()
		}
		if comments != "" {
			updates["comments"] = comments
		}
		res := tx.Model(&ApprovalRequest{}).
			Where("request_id = ? AND status IN ?", requestID, []string{StatusPending, StatusInReview}).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// distinguish missing from already decided
			var n int64
			if err := tx.Model(&ApprovalRequest{}).Where("request_id = ?", requestID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrNotFound
			}
			return ErrInvalidState
		}
		var req ApprovalRequest
		if err := tx.Preload("Lines").Where("request_id = ?", requestID).First(&req).Error; err != nil {
			return err
		}
		out = &req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkInReview flags a pending request as opened by its approver. Decided
// requests are left alone; this is a soft marker, not a decision.
func (r *Repo) MarkInReview(ctx context.Context, requestID string) error {
	return r.db.WithContext(ctx).Model(&ApprovalRequest{}).
		Where("request_id = ? AND status = ?", requestID, StatusPending).
		Update("status", StatusInReview).Error
}
