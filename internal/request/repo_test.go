package request

import (
	"context"
	"errors"
	"testing"
	"time"

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
	return db
}

func seedRequest(t *testing.T, r *Repo, id string) *ApprovalRequest {
	t.Helper()
	req := &ApprovalRequest{
		RequestID:     id,
		Requester:     "sam@example.com",
		Approver:      "boss@example.com",
		InvoiceNumber: "INV-100",
		VendorName:    "Acme Rail Services",
		InvoiceAmount: 1500.00,
		Currency:      "CAD",
		Lines: []GLCodingEntry{
			{LineNo: 1, AccountCode: "6400", FacilityCode: "TOR-01", Amount: 1000.00},
			{LineNo: 2, AccountCode: "6500", FacilityCode: "TOR-01", Amount: 500.00},
		},
	}
	if err := r.Create(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	return req
}

func TestCreateAndGet(t *testing.T) {
	r := NewRepo(testDB(t))
	seedRequest(t, r, "TCRS-2026-000001")

	got, err := r.Get(context.Background(), "TCRS-2026-000001")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPending {
		t.Fatalf("status = %s", got.Status)
	}
	if len(got.Lines) != 2 || got.Lines[0].LineNo != 1 {
		t.Fatalf("lines = %+v", got.Lines)
	}

	if _, err := r.Get(context.Background(), "TCRS-2026-999999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDecide_ApproveThenLocked(t *testing.T) {
	r := NewRepo(testDB(t))
	seedRequest(t, r, "TCRS-2026-000001")
	ctx := context.Background()

	when := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	got, err := r.Decide(ctx, "TCRS-2026-000001", StatusApproved, "boss@example.com", "ok", when)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != StatusApproved {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ApprovedDate == nil || !got.ApprovedDate.Equal(when) {
		t.Fatalf("approved date = %v", got.ApprovedDate)
	}
	if got.Comments != "ok" {
		t.Fatalf("comments = %q", got.Comments)
	}

	// second decision of either kind must lose
	if _, err := r.Decide(ctx, "TCRS-2026-000001", StatusRejected, "boss@example.com", "late", when); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if _, err := r.Decide(ctx, "TCRS-2026-000001", StatusApproved, "boss@example.com", "", when); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestDecide_FromInReview(t *testing.T) {
	r := NewRepo(testDB(t))
	seedRequest(t, r, "TCRS-2026-000002")
	ctx := context.Background()

	if err := r.MarkInReview(ctx, "TCRS-2026-000002"); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(ctx, "TCRS-2026-000002")
	if got.Status != StatusInReview {
		t.Fatalf("status = %s", got.Status)
	}

	if _, err := r.Decide(ctx, "TCRS-2026-000002", StatusRejected, "boss@example.com", "wrong GL", time.Now()); err != nil {
		t.Fatalf("reject from in-review: %v", err)
	}

	// in-review marker must not resurrect a decided request
	if err := r.MarkInReview(ctx, "TCRS-2026-000002"); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Get(ctx, "TCRS-2026-000002")
	if got.Status != StatusRejected {
		t.Fatalf("status = %s after MarkInReview on decided", got.Status)
	}
}

func TestDecide_NotFound(t *testing.T) {
	r := NewRepo(testDB(t))
	_, err := r.Decide(context.Background(), "TCRS-2026-424242", StatusApproved, "boss@example.com", "", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{0: 50, -3: 50, 10: 10, 500: 500, 501: 500, 9999: 500}
	for in, want := range cases {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestList_Filters(t *testing.T) {
	r := NewRepo(testDB(t))
	ctx := context.Background()
	seedRequest(t, r, "TCRS-2026-000001")
	seedRequest(t, r, "TCRS-2026-000002")
	if _, err := r.Decide(ctx, "TCRS-2026-000002", StatusApproved, "boss@example.com", "", time.Now()); err != nil {
		t.Fatal(err)
	}

	rows, total, err := r.List(ctx, ListFilter{Status: StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(rows) != 1 || rows[0].RequestID != "TCRS-2026-000001" {
		t.Fatalf("pending list = %d rows, total %d", len(rows), total)
	}

	rows, total, err = r.List(ctx, ListFilter{Approver: "BOSS@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("approver filter total = %d", total)
	}

	rows, _, err = r.List(ctx, ListFilter{Vendor: "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("vendor filter rows = %d", len(rows))
	}
}
