package workflow

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WorkflowStep is a catalog row describing one auditable action.
type WorkflowStep struct {
	gorm.Model
	Code      string `gorm:"size:64;uniqueIndex"`
	Name      string `gorm:"size:128"`
	Category  string `gorm:"size:32;index"` // request|dictionary|system
	StepOrder int
	Initiator string `gorm:"size:16"` // user|system|robot
}

// WorkflowHistory is the append-only audit trail. Rows are never updated
// or deleted once written.
type WorkflowHistory struct {
	gorm.Model
	RequestKey string `gorm:"size:64;index"` // TCRS-... or DICT-<TYPE>-<id>
	StepID     uint   `gorm:"index"`
	Step       WorkflowStep
	ExecutedBy string `gorm:"size:128"`
	ExecutedAt time.Time
	Success    bool
	ErrorCode  string         `gorm:"size:64"`
	PrevValue  datatypes.JSON // snapshot before the action, null for creates
	NewValue   datatypes.JSON // snapshot after the action
	Notes      string         `gorm:"size:1024"`
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&WorkflowStep{}, &WorkflowHistory{})
}
