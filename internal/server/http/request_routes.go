package http

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tcrsapp/tcrs/internal/request"
	"github.com/tcrsapp/tcrs/internal/telemetry"
	"github.com/tcrsapp/tcrs/internal/workflow"
	"github.com/tcrsapp/tcrs/internal/workflow/events"
)

func (s *Server) addRequestRoutes(r *gin.Engine) {
	r.POST("/api/requests", s.handleCreateRequest)
	r.GET("/api/requests", s.handleListRequests)
	r.GET("/api/requests/export", s.handleExportRequests)
	r.GET("/api/requests/:id", s.handleGetRequest)
	r.GET("/api/requests/:id/history", s.handleRequestHistory)
	r.POST("/api/requests/:id/approve", s.handleApprove)
	r.POST("/api/requests/:id/reject", s.handleReject)
}

type glLineIn struct {
	AccountCode  string  `json:"account_code"`
	FacilityCode string  `json:"facility_code"`
	TaxCode      string  `json:"tax_code"`
	Amount       float64 `json:"amount"`
	Description  string  `json:"description"`
}

type createRequestIn struct {
	Approver      string     `json:"approver"`
	InvoiceNumber string     `json:"invoice_number"`
	VendorName    string     `json:"vendor_name"`
	InvoiceAmount float64    `json:"invoice_amount"`
	Currency      string     `json:"currency"`
	InvoiceDate   string     `json:"invoice_date"`
	Comments      string     `json:"comments"`
	Attachments   []string   `json:"attachments"` // tmp/ keys from the upload endpoint
	GLCoding      []glLineIn `json:"gl_coding"`
}

// statusSnapshot is what history rows record for state changes.
type statusSnapshot struct {
	Status   string `json:"status"`
	Approver string `json:"approver,omitempty"`
}

func (s *Server) handleCreateRequest(c *gin.Context) {
	user, _, ok := s.require(c, "requests:create")
	if !ok {
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "cannot read body")
		return
	}
	if err := request.ValidateCreatePayload(raw); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var in createRequestIn
	if err := json.Unmarshal(raw, &in); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "malformed json")
		return
	}

	lines := make([]request.GLCodingEntry, 0, len(in.GLCoding))
	for i, l := range in.GLCoding {
		lines = append(lines, request.GLCodingEntry{
			LineNo:       i + 1,
			AccountCode:  strings.TrimSpace(l.AccountCode),
			FacilityCode: strings.TrimSpace(l.FacilityCode),
			TaxCode:      l.TaxCode,
			Amount:       l.Amount,
			Description:  l.Description,
		})
	}
	if !request.AmountsMatch(lines, in.InvoiceAmount) {
		s.respondError(c, http.StatusBadRequest, "bad_request",
			fmt.Sprintf("gl coding total %.2f does not match invoice amount %.2f", request.SumLines(lines), in.InvoiceAmount))
		return
	}
	ctx := c.Request.Context()
	for _, l := range lines {
		if okc, err := s.dict.AccountExists(ctx, l.AccountCode); err != nil {
			s.respondError(c, http.StatusInternalServerError, "internal_error", "dictionary lookup failed")
			return
		} else if !okc {
			s.respondError(c, http.StatusBadRequest, "bad_request", "unknown account code "+l.AccountCode)
			return
		}
		if okc, err := s.dict.FacilityExists(ctx, l.FacilityCode); err != nil {
			s.respondError(c, http.StatusInternalServerError, "internal_error", "dictionary lookup failed")
			return
		} else if !okc {
			s.respondError(c, http.StatusBadRequest, "bad_request", "unknown facility code "+l.FacilityCode)
			return
		}
	}

	now := time.Now()
	req := &request.ApprovalRequest{
		RequestID:     s.serials.Next(ctx, now),
		Requester:     user,
		Approver:      strings.ToLower(strings.TrimSpace(in.Approver)),
		Status:        request.StatusPending,
		InvoiceNumber: in.InvoiceNumber,
		VendorName:    in.VendorName,
		InvoiceAmount: in.InvoiceAmount,
		Currency:      strings.ToUpper(in.Currency),
		Comments:      in.Comments,
		Lines:         lines,
	}
	if in.InvoiceDate != "" {
		d, err := time.Parse("2006-01-02", in.InvoiceDate)
		if err != nil {
			s.respondError(c, http.StatusBadRequest, "bad_request", "invoice_date must be YYYY-MM-DD")
			return
		}
		req.InvoiceDate = &d
	}
	if err := s.requests.Create(ctx, req); err != nil {
		slog.Error("create request failed", "err", err, "request_id", c.GetString("request_id"))
		s.respondError(c, http.StatusInternalServerError, "internal_error", "could not persist request")
		return
	}

	// attachments move from the tmp area after the row commits; failures
	// degrade to warnings, the request itself already exists
	warnings := s.moveAttachments(c, req.RequestID, in.Attachments)

	if err := s.wf.Log(ctx, workflow.Entry{
		StepCode:   workflow.StepRequestCreated,
		RequestKey: req.RequestID,
		ExecutedBy: user,
		Success:    true,
		New:        statusSnapshot{Status: req.Status, Approver: req.Approver},
	}); err != nil {
		telemetry.Add(ctx, counterOrNil(s.metrics).AuditFailures, 1)
		slog.Error("workflow log failed", "step", workflow.StepRequestCreated, "key", req.RequestID, "err", err)
	}
	s.publish(workflow.StepRequestCreated, req.RequestID, user, map[string]any{
		"approver": req.Approver,
		"amount":   req.InvoiceAmount,
	})
	telemetry.Add(ctx, counterOrNil(s.metrics).RequestsCreated, 1)

	c.JSON(http.StatusCreated, gin.H{
		"id":         req.ID,
		"request_id": req.RequestID,
		"status":     req.Status,
		"warnings":   warnings,
	})
}

func (s *Server) moveAttachments(c *gin.Context, requestID string, keys []string) []string {
	warnings := []string{}
	if len(keys) == 0 {
		return warnings
	}
	if s.renamer == nil {
		warnings = append(warnings, "storage not configured, attachments left in place")
		return warnings
	}
	ctx := c.Request.Context()
	for _, src := range keys {
		if !strings.HasPrefix(src, "tmp/") {
			warnings = append(warnings, "skipped attachment outside tmp area: "+src)
			continue
		}
		dst := "requests/" + requestID + "/" + path.Base(src)
		if err := s.renamer.Rename(ctx, src, dst); err != nil {
			telemetry.Add(ctx, counterOrNil(s.metrics).RenameWarnings, 1)
			slog.Warn("attachment move failed", "src", src, "dst", dst, "err", err)
			warnings = append(warnings, "attachment "+path.Base(src)+": "+err.Error())
		}
	}
	return warnings
}

func (s *Server) handleListRequests(c *gin.Context) {
	_, _, ok := s.require(c, "requests:read")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	rows, total, err := s.requests.List(c.Request.Context(), request.ListFilter{
		Status:    c.Query("status"),
		Requester: c.Query("requester"),
		Approver:  c.Query("approver"),
		Vendor:    c.Query("vendor"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows, "total": total})
}

func (s *Server) handleGetRequest(c *gin.Context) {
	user, roles, ok := s.require(c, "requests:read")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	req, err := s.requests.Get(ctx, c.Param("id"))
	if errors.Is(err, request.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "no such request")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "load failed")
		return
	}
	// opening a pending request as its approver marks it in-review
	if req.Status == request.StatusPending && (hasRole(roles, "approver") || hasRole(roles, "admin")) {
		if can, _ := s.dict.CanActFor(ctx, user, req.Approver); can {
			if err := s.requests.MarkInReview(ctx, req.RequestID); err == nil {
				req.Status = request.StatusInReview
			}
		}
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) handleRequestHistory(c *gin.Context) {
	_, _, ok := s.require(c, "requests:read")
	if !ok {
		return
	}
	id := c.Param("id")
	if _, err := s.requests.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, request.ErrNotFound) {
			s.respondError(c, http.StatusNotFound, "not_found", "no such request")
			return
		}
		s.respondError(c, http.StatusInternalServerError, "internal_error", "load failed")
		return
	}
	rows, err := s.wf.History(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "history load failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, h := range rows {
		out = append(out, gin.H{
			"step":        h.Step.Code,
			"step_name":   h.Step.Name,
			"executed_by": h.ExecutedBy,
			"executed_at": h.ExecutedAt,
			"success":     h.Success,
			"error_code":  h.ErrorCode,
			"prev_value":  json.RawMessage(h.PrevValue),
			"new_value":   json.RawMessage(h.NewValue),
			"notes":       h.Notes,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (s *Server) handleApprove(c *gin.Context) {
	s.handleDecision(c, request.StatusApproved, workflow.StepRequestApproved)
}

func (s *Server) handleReject(c *gin.Context) {
	s.handleDecision(c, request.StatusRejected, workflow.StepRequestRejected)
}

type decisionIn struct {
	Comments string `json:"comments"`
}

func (s *Server) handleDecision(c *gin.Context, to, stepCode string) {
	user, roles, ok := s.require(c, "requests:approve")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	req, err := s.requests.Get(ctx, id)
	if errors.Is(err, request.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "no such request")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "load failed")
		return
	}

	if !hasRole(roles, "admin") {
		can, err := s.dict.CanActFor(ctx, user, req.Approver)
		if err != nil {
			s.respondError(c, http.StatusInternalServerError, "internal_error", "approver lookup failed")
			return
		}
		if !can {
			s.respondError(c, http.StatusForbidden, "forbidden", "not the assigned approver or a registered backup")
			return
		}
	}

	var in decisionIn
	_ = c.ShouldBindJSON(&in) // body optional for approve
	if to == request.StatusRejected && strings.TrimSpace(in.Comments) == "" {
		s.respondError(c, http.StatusBadRequest, "bad_request", "rejection requires a comment")
		return
	}

	prev := statusSnapshot{Status: req.Status, Approver: req.Approver}
	decided, err := s.requests.Decide(ctx, id, to, user, in.Comments, time.Now())
	if errors.Is(err, request.ErrInvalidState) {
		s.respondError(c, http.StatusBadRequest, "invalid_state", "request already decided")
		return
	}
	if errors.Is(err, request.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "no such request")
		return
	}
	if err != nil {
		slog.Error("decision failed", "request", id, "to", to, "err", err)
		s.respondError(c, http.StatusInternalServerError, "internal_error", "decision failed")
		return
	}

	if err := s.wf.Log(ctx, workflow.Entry{
		StepCode:   stepCode,
		RequestKey: id,
		ExecutedBy: user,
		Success:    true,
		Prev:       prev,
		New:        statusSnapshot{Status: decided.Status, Approver: decided.Approver},
		Notes:      in.Comments,
	}); err != nil {
		telemetry.Add(ctx, counterOrNil(s.metrics).AuditFailures, 1)
		slog.Error("workflow log failed", "step", stepCode, "key", id, "err", err)
	}
	s.publish(stepCode, id, user, map[string]any{"status": decided.Status})
	if to == request.StatusApproved {
		telemetry.Add(ctx, counterOrNil(s.metrics).RequestsApproved, 1)
	} else {
		telemetry.Add(ctx, counterOrNil(s.metrics).RequestsRejected, 1)
	}
	c.JSON(http.StatusOK, decided)
}

func (s *Server) handleExportRequests(c *gin.Context) {
	_, _, ok := s.require(c, "requests:read")
	if !ok {
		return
	}
	rows, _, err := s.requests.List(c.Request.Context(), request.ListFilter{
		Status: c.Query("status"),
		Limit:  500,
	})
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "export failed")
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="requests.csv"`)
	if err := writeRequestsCSV(c.Writer, rows); err != nil {
		// headers are already on the wire, all that is left is the log
		slog.Error("csv export write failed", "err", err, "request_id", c.GetString("request_id"))
	}
}

func writeRequestsCSV(out io.Writer, rows []request.ApprovalRequest) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"request_id", "status", "requester", "approver", "vendor", "invoice_number", "amount", "currency", "approved_date"}); err != nil {
		return err
	}
	for _, r := range rows {
		approved := ""
		if r.ApprovedDate != nil {
			approved = r.ApprovedDate.UTC().Format(time.RFC3339)
		}
		if err := w.Write([]string{
			r.RequestID, r.Status, r.Requester, r.Approver, r.VendorName, r.InvoiceNumber,
			strconv.FormatFloat(r.InvoiceAmount, 'f', 2, 64), r.Currency, approved,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// publish fires a workflow event; best effort after commit.
func (s *Server) publish(kind, key, actor string, fields map[string]any) {
	err := s.events.Publish(context.Background(), events.Event{
		Kind:       kind,
		RequestKey: key,
		Actor:      actor,
		At:         time.Now().Unix(),
		Fields:     fields,
	})
	if err != nil {
		slog.Warn("event publish failed", "kind", kind, "key", key, "err", err)
	}
}

// counterOrNil lets metric increments stay one-liners when metrics are off.
func counterOrNil(m *telemetry.Metrics) *telemetry.Metrics {
	if m == nil {
		return &telemetry.Metrics{}
	}
	return m
}
