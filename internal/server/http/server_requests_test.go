package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	gsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tcrsapp/tcrs/internal/auth/rbac"
	"github.com/tcrsapp/tcrs/internal/auth/token"
	"github.com/tcrsapp/tcrs/internal/dictionary"
	"github.com/tcrsapp/tcrs/internal/request"
)

func newTestServer(t *testing.T) (*Server, *token.Manager) {
	t.Helper()
	db, err := gorm.Open(gsqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	pol := rbac.NewPolicy()
	pol.Grant("role:requester", "requests:create")
	pol.Grant("role:requester", "requests:read")
	pol.Grant("role:requester", "files:upload")
	pol.Grant("role:requester", "dict:read")
	pol.Grant("role:approver", "requests:read")
	pol.Grant("role:approver", "requests:approve")
	pol.Grant("role:admin", "*")

	tokens := token.NewManager("test-secret")
	srv, err := NewServer(Config{DB: db, Authz: pol, Tokens: tokens})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	// reference data used by submissions
	db.Create(&dictionary.AccountsMaster{Code: "6400", Description: "Repairs", Active: true})
	db.Create(&dictionary.AccountsMaster{Code: "6500", Description: "Parts", Active: true})
	db.Create(&dictionary.Facility{Code: "TOR-01", Name: "Toronto Yard", Active: true})
	boss := dictionary.ApproverEntry{Email: "boss@example.com", Name: "Boss", Active: true}
	boss.SetBackups([]string{"deputy@example.com"})
	db.Create(&boss)

	return srv, tokens
}

func bearer(t *testing.T, m *token.Manager, email string, roles ...string) string {
	t.Helper()
	tok, err := m.Sign(email, roles, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func doJSON(t *testing.T, s *Server, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func validCreateBody() map[string]any {
	return map[string]any{
		"approver":       "boss@example.com",
		"invoice_number": "INV-100",
		"vendor_name":    "Acme Rail Services",
		"invoice_amount": 1500.00,
		"currency":       "CAD",
		"invoice_date":   "2026-02-10",
		"gl_coding": []map[string]any{
			{"account_code": "6400", "facility_code": "TOR-01", "amount": 1000.00},
			{"account_code": "6500", "facility_code": "TOR-01", "amount": 500.00},
		},
	}
}

func submit(t *testing.T, s *Server, m *token.Manager) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/requests", bearer(t, m, "sam@example.com", "requester"), validCreateBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	return decode(t, w)["request_id"].(string)
}

func TestAuth_MissingAndForbidden(t *testing.T) {
	s, m := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/requests", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}
	if decode(t, w)["code"] != "unauthorized" {
		t.Fatalf("body = %s", w.Body.String())
	}

	// requester role cannot decide
	w = doJSON(t, s, http.MethodPost, "/api/requests/TCRS-2026-000001/approve", bearer(t, m, "sam@example.com", "requester"), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("requester approve = %d", w.Code)
	}
}

func TestCreateRequest(t *testing.T) {
	s, m := newTestServer(t)

	id := submit(t, s, m)
	if !regexp.MustCompile(`^TCRS-\d{4}-\d{6}$`).MatchString(id) {
		t.Fatalf("request id = %s", id)
	}

	// readable with lines
	w := doJSON(t, s, http.MethodGet, "/api/requests/"+id, bearer(t, m, "sam@example.com", "requester"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	got := decode(t, w)
	if got["Status"] != "pending" {
		t.Fatalf("status = %v", got["Status"])
	}

	// exactly one history row, the creation step
	w = doJSON(t, s, http.MethodGet, "/api/requests/"+id+"/history", bearer(t, m, "sam@example.com", "requester"), nil)
	items := decode(t, w)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("history rows = %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["step"] != "request_created" || first["executed_by"] != "sam@example.com" {
		t.Fatalf("history row = %v", first)
	}
}

func TestCreateRequest_Validation(t *testing.T) {
	s, m := newTestServer(t)
	auth := bearer(t, m, "sam@example.com", "requester")

	body := validCreateBody()
	body["gl_coding"] = []map[string]any{
		{"account_code": "6400", "facility_code": "TOR-01", "amount": 1000.00},
	}
	w := doJSON(t, s, http.MethodPost, "/api/requests", auth, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("amount mismatch = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(decode(t, w)["message"].(string), "does not match") {
		t.Fatalf("body = %s", w.Body.String())
	}

	body = validCreateBody()
	body["gl_coding"] = []map[string]any{
		{"account_code": "0000", "facility_code": "TOR-01", "amount": 1500.00},
	}
	w = doJSON(t, s, http.MethodPost, "/api/requests", auth, body)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "unknown account code") {
		t.Fatalf("unknown account = %d: %s", w.Code, w.Body.String())
	}

	body = validCreateBody()
	delete(body, "invoice_number")
	w = doJSON(t, s, http.MethodPost, "/api/requests", auth, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing field = %d", w.Code)
	}
}

func TestApproveFlow(t *testing.T) {
	s, m := newTestServer(t)
	id := submit(t, s, m)

	// a stranger with the approver role is not the assigned approver
	w := doJSON(t, s, http.MethodPost, "/api/requests/"+id+"/approve", bearer(t, m, "eve@example.com", "approver"), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("stranger approve = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/api/requests/"+id+"/approve", bearer(t, m, "boss@example.com", "approver"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", w.Code, w.Body.String())
	}
	got := decode(t, w)
	if got["Status"] != "approved" {
		t.Fatalf("status = %v", got["Status"])
	}
	if got["ApprovedDate"] == nil {
		t.Fatal("approved date not set")
	}

	// terminal: neither decision can run again
	w = doJSON(t, s, http.MethodPost, "/api/requests/"+id+"/approve", bearer(t, m, "boss@example.com", "approver"), nil)
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "invalid_state" {
		t.Fatalf("re-approve = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, http.MethodPost, "/api/requests/"+id+"/reject", bearer(t, m, "boss@example.com", "approver"),
		map[string]any{"comments": "too late"})
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "invalid_state" {
		t.Fatalf("reject after approve = %d: %s", w.Code, w.Body.String())
	}

	// trail: created + approved
	w = doJSON(t, s, http.MethodGet, "/api/requests/"+id+"/history", bearer(t, m, "sam@example.com", "requester"), nil)
	items := decode(t, w)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("history rows = %d", len(items))
	}
	last := items[1].(map[string]any)
	if last["step"] != "request_approved" {
		t.Fatalf("last step = %v", last["step"])
	}
	prev := last["prev_value"].(map[string]any)
	next := last["new_value"].(map[string]any)
	if prev["status"] != "pending" || next["status"] != "approved" {
		t.Fatalf("snapshots = %v -> %v", prev, next)
	}
}

func TestRejectFlow(t *testing.T) {
	s, m := newTestServer(t)
	id := submit(t, s, m)

	// rejection without a comment is refused
	w := doJSON(t, s, http.MethodPost, "/api/requests/"+id+"/reject", bearer(t, m, "boss@example.com", "approver"), nil)
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "bad_request" {
		t.Fatalf("reject w/o comment = %d: %s", w.Code, w.Body.String())
	}

	// a registered backup may decide for the assigned approver
	w = doJSON(t, s, http.MethodPost, "/api/requests/"+id+"/reject", bearer(t, m, "deputy@example.com", "approver"),
		map[string]any{"comments": "wrong GL account"})
	if w.Code != http.StatusOK {
		t.Fatalf("backup reject = %d: %s", w.Code, w.Body.String())
	}
	got := decode(t, w)
	if got["Status"] != "rejected" || got["Comments"] != "wrong GL account" {
		t.Fatalf("rejected = %v", got)
	}
}

func TestGetAsApprover_MarksInReview(t *testing.T) {
	s, m := newTestServer(t)
	id := submit(t, s, m)

	w := doJSON(t, s, http.MethodGet, "/api/requests/"+id, bearer(t, m, "boss@example.com", "approver"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	if decode(t, w)["Status"] != "in-review" {
		t.Fatalf("body = %s", w.Body.String())
	}

	// still decidable from in-review
	w = doJSON(t, s, http.MethodPost, "/api/requests/"+id+"/approve", bearer(t, m, "boss@example.com", "approver"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("approve from in-review = %d", w.Code)
	}
}

func TestDecision_NotFound(t *testing.T) {
	s, m := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/requests/TCRS-2026-999999/approve", bearer(t, m, "admin@example.com", "admin"), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("approve missing = %d", w.Code)
	}
}

func TestListAndExport(t *testing.T) {
	s, m := newTestServer(t)
	for i := 0; i < 3; i++ {
		submit(t, s, m)
	}

	w := doJSON(t, s, http.MethodGet, "/api/requests?status=pending", bearer(t, m, "sam@example.com", "requester"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	got := decode(t, w)
	if got["total"].(float64) != 3 {
		t.Fatalf("total = %v", got["total"])
	}

	w = doJSON(t, s, http.MethodGet, "/api/requests/export", bearer(t, m, "sam@example.com", "requester"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %s", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 4 { // header + 3 rows
		t.Fatalf("csv lines = %d:\n%s", len(lines), w.Body.String())
	}
	if !strings.HasPrefix(lines[0], "request_id,status") {
		t.Fatalf("csv header = %s", lines[0])
	}
}

func TestRequestHistory_LoadError(t *testing.T) {
	s, m := newTestServer(t)
	auth := bearer(t, m, "sam@example.com", "requester")

	// a broken connection must surface as 500, not an empty trail
	sqlDB, err := s.gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	_ = sqlDB.Close()

	w := doJSON(t, s, http.MethodGet, "/api/requests/TCRS-2026-000001/history", auth, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("history with closed db = %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["code"] != "internal_error" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("sink closed") }

func TestWriteRequestsCSV_ReportsWriteErrors(t *testing.T) {
	rows := []request.ApprovalRequest{{RequestID: "TCRS-2026-000001", Status: "pending"}}
	if err := writeRequestsCSV(failWriter{}, rows); err == nil {
		t.Fatal("write error swallowed")
	}
	var buf bytes.Buffer
	if err := writeRequestsCSV(&buf, rows); err != nil {
		t.Fatalf("healthy writer: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "request_id,status") {
		t.Fatalf("csv = %q", buf.String())
	}
}

func TestSerialUniqueAcrossSubmissions(t *testing.T) {
	s, m := newTestServer(t)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		id := submit(t, s, m)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 5 {
		t.Fatalf("ids = %d", len(seen))
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}
