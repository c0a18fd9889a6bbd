package dictionary

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AccountsMaster is a GL account dictionary entry.
type AccountsMaster struct {
	gorm.Model
	Code        string `gorm:"size:32;uniqueIndex"`
	Description string `gorm:"size:256"`
	Category    string `gorm:"size:64"`
	Active      bool   `gorm:"default:true;index"`
	CreatedBy   string `gorm:"size:128"`
	UpdatedBy   string `gorm:"size:128"`
}

// Facility is a billable facility/location entry.
type Facility struct {
	gorm.Model
	Code      string `gorm:"size:32;uniqueIndex"`
	Name      string `gorm:"size:256"`
	Region    string `gorm:"size:64"`
	Active    bool   `gorm:"default:true;index"`
	CreatedBy string `gorm:"size:128"`
	UpdatedBy string `gorm:"size:128"`
}

// ApproverEntry registers who may approve and their backup delegates.
type ApproverEntry struct {
	gorm.Model
	Email     string         `gorm:"size:128;uniqueIndex"`
	Name      string         `gorm:"size:128"`
	Backups   datatypes.JSON // list of backup approver emails
	Active    bool           `gorm:"default:true;index"`
	CreatedBy string         `gorm:"size:128"`
	UpdatedBy string         `gorm:"size:128"`
}

func (a *ApproverEntry) GetBackups() []string {
	if len(a.Backups) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(a.Backups, &out); err != nil {
		return nil
	}
	return out
}

func (a *ApproverEntry) SetBackups(emails []string) {
	if emails == nil {
		emails = []string{}
	}
	b, _ := json.Marshal(emails)
	a.Backups = datatypes.JSON(b)
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AccountsMaster{}, &Facility{}, &ApproverEntry{})
}
