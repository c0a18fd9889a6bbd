package workflow

import (
	"context"
	"errors"
	"testing"

	gsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gsqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Seed(db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

func TestSeed_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := Seed(db); err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	var n int64
	db.Model(&WorkflowStep{}).Where("code = ?", StepRequestCreated).Count(&n)
	if n != 1 {
		t.Fatalf("step duplicated, count = %d", n)
	}
}

func TestLog_AppendsWithSnapshots(t *testing.T) {
	db := testDB(t)
	l := NewLogger(db)
	ctx := context.Background()

	err := l.Log(ctx, Entry{
		StepCode:   StepRequestApproved,
		RequestKey: "TCRS-2026-000042",
		ExecutedBy: "boss@example.com",
		Success:    true,
		Prev:       map[string]string{"status": "pending"},
		New:        map[string]string{"status": "approved"},
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}

	rows, err := l.History(ctx, "TCRS-2026-000042")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	r := rows[0]
	if r.Step.Code != StepRequestApproved {
		t.Fatalf("step = %s", r.Step.Code)
	}
	if string(r.PrevValue) == "" || string(r.NewValue) == "" {
		t.Fatal("snapshots missing")
	}
	if !r.Success || r.ExecutedBy != "boss@example.com" {
		t.Fatalf("row = %+v", r)
	}
}

func TestLog_UnknownStep(t *testing.T) {
	db := testDB(t)
	l := NewLogger(db)

	err := l.Log(context.Background(), Entry{StepCode: "no_such_step", RequestKey: "TCRS-2026-000001"})
	if !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("err = %v, want ErrUnknownStep", err)
	}
	var n int64
	db.Model(&WorkflowHistory{}).Count(&n)
	if n != 0 {
		t.Fatalf("history rows written for unknown step: %d", n)
	}
}

func TestDictKey(t *testing.T) {
	if got := DictKey("account", 7); got != "DICT-ACCOUNT-7" {
		t.Fatalf("key = %s", got)
	}
}
