package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Step codes known to the application. Dictionary audit steps carry the
// entity type in the code so the trail reads without joins.
const (
	StepRequestCreated  = "request_created"
	StepRequestApproved = "request_approved"
	StepRequestRejected = "request_rejected"

	StepDictAccountCreated  = "DICT_ACCOUNT_CREATED"
	StepDictAccountUpdated  = "DICT_ACCOUNT_UPDATED"
	StepDictAccountDeleted  = "DICT_ACCOUNT_DELETED"
	StepDictFacilityCreated = "DICT_FACILITY_CREATED"
	StepDictFacilityUpdated = "DICT_FACILITY_UPDATED"
	StepDictFacilityDeleted = "DICT_FACILITY_DELETED"
	StepDictApproverCreated = "DICT_APPROVER_CREATED"
	StepDictApproverUpdated = "DICT_APPROVER_UPDATED"
	StepDictApproverDeleted = "DICT_APPROVER_DELETED"
)

func defaultSteps() []WorkflowStep {
	return []WorkflowStep{
		{Code: StepRequestCreated, Name: "Request created", Category: "request", StepOrder: 10, Initiator: "user"},
		{Code: StepRequestApproved, Name: "Request approved", Category: "request", StepOrder: 20, Initiator: "user"},
		{Code: StepRequestRejected, Name: "Request rejected", Category: "request", StepOrder: 21, Initiator: "user"},
		{Code: StepDictAccountCreated, Name: "Account created", Category: "dictionary", StepOrder: 100, Initiator: "user"},
		{Code: StepDictAccountUpdated, Name: "Account updated", Category: "dictionary", StepOrder: 101, Initiator: "user"},
		{Code: StepDictAccountDeleted, Name: "Account deleted", Category: "dictionary", StepOrder: 102, Initiator: "user"},
		{Code: StepDictFacilityCreated, Name: "Facility created", Category: "dictionary", StepOrder: 110, Initiator: "user"},
		{Code: StepDictFacilityUpdated, Name: "Facility updated", Category: "dictionary", StepOrder: 111, Initiator: "user"},
		{Code: StepDictFacilityDeleted, Name: "Facility deleted", Category: "dictionary", StepOrder: 112, Initiator: "user"},
		{Code: StepDictApproverCreated, Name: "Approver created", Category: "dictionary", StepOrder: 120, Initiator: "user"},
		{Code: StepDictApproverUpdated, Name: "Approver updated", Category: "dictionary", StepOrder: 121, Initiator: "user"},
		{Code: StepDictApproverDeleted, Name: "Approver deleted", Category: "dictionary", StepOrder: 122, Initiator: "user"},
	}
}

type catalogFile struct {
	Steps []struct {
		Code      string `yaml:"code"`
		Name      string `yaml:"name"`
		Category  string `yaml:"category"`
		Order     int    `yaml:"order"`
		Initiator string `yaml:"initiator"`
	} `yaml:"steps"`
}

// LoadCatalogFile parses extra/overriding steps from a YAML file.
func LoadCatalogFile(path string) ([]WorkflowStep, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]WorkflowStep, 0, len(f.Steps))
	for _, s := range f.Steps {
		code := strings.TrimSpace(s.Code)
		if code == "" {
			continue
		}
		init := s.Initiator
		if init == "" {
			init = "user"
		}
		out = append(out, WorkflowStep{Code: code, Name: s.Name, Category: s.Category, StepOrder: s.Order, Initiator: init})
	}
	return out, nil
}

// Seed upserts the built-in step catalog plus any extras. Codes are the
// conflict key so re-seeding on boot is safe.
func Seed(db *gorm.DB, extra ...WorkflowStep) error {
	steps := append(defaultSteps(), extra...)
	for _, s := range steps {
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "category", "step_order", "initiator"}),
		}).Create(&s).Error
		if err != nil {
			return fmt.Errorf("seed step %s: %w", s.Code, err)
		}
	}
	return nil
}
