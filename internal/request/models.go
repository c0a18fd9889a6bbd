package request

import (
	"time"

	"gorm.io/gorm"
)

// Status values for an approval request.
const (
	StatusPending  = "pending"
	StatusInReview = "in-review"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusApproved || status == StatusRejected
}

// ApprovalRequest is an invoice submitted for approval.
type ApprovalRequest struct {
	gorm.Model
	RequestID     string `gorm:"size:32;uniqueIndex"` // TCRS-<year>-<serial>
	Requester     string `gorm:"size:128;index"`
	Approver      string `gorm:"size:128;index"`
	Status        string `gorm:"size:16;index"` // pending|in-review|approved|rejected
	InvoiceNumber string `gorm:"size:64"`
	VendorName    string `gorm:"size:256"`
	InvoiceAmount float64
	Currency      string `gorm:"size:8"`
	InvoiceDate   *time.Time
	ApprovedDate  *time.Time
	Comments      string `gorm:"size:2048"`

	Lines []GLCodingEntry `gorm:"foreignKey:RequestRef"`
}

// GLCodingEntry splits an invoice amount across GL accounts.
type GLCodingEntry struct {
	gorm.Model
	RequestRef   uint   `gorm:"index"` // ApprovalRequest.ID
	LineNo       int
	AccountCode  string `gorm:"size:32"`
	FacilityCode string `gorm:"size:32"`
	TaxCode      string `gorm:"size:16"`
	Amount       float64
	Description  string `gorm:"size:512"`
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ApprovalRequest{}, &GLCodingEntry{})
}
