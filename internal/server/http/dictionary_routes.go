package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tcrsapp/tcrs/internal/dictionary"
	"github.com/tcrsapp/tcrs/internal/telemetry"
	"github.com/tcrsapp/tcrs/internal/workflow"
)

func (s *Server) addDictionaryRoutes(r *gin.Engine) {
	g := r.Group("/api/dict")
	g.GET("/accounts", s.handleListAccounts)
	g.POST("/accounts", s.handleCreateAccount)
	g.PUT("/accounts/:id", s.handleUpdateAccount)
	g.DELETE("/accounts/:id", s.handleDeleteAccount)

	g.GET("/facilities", s.handleListFacilities)
	g.POST("/facilities", s.handleCreateFacility)
	g.PUT("/facilities/:id", s.handleUpdateFacility)
	g.DELETE("/facilities/:id", s.handleDeleteFacility)

	g.GET("/approvers", s.handleListApprovers)
	g.POST("/approvers", s.handleCreateApprover)
	g.PUT("/approvers/:id", s.handleUpdateApprover)
	g.DELETE("/approvers/:id", s.handleDeleteApprover)
}

// dictAudit writes the history row for a dictionary mutation. Failures are
// counted and logged; the mutation itself has already committed.
func (s *Server) dictAudit(c *gin.Context, stepCode, kind string, id uint, actor string, prev, next any) {
	ctx := c.Request.Context()
	err := s.wf.Log(ctx, workflow.Entry{
		StepCode:   stepCode,
		RequestKey: workflow.DictKey(kind, id),
		ExecutedBy: actor,
		Success:    true,
		Prev:       prev,
		New:        next,
	})
	if err != nil {
		telemetry.Add(ctx, counterOrNil(s.metrics).AuditFailures, 1)
		slog.Error("dictionary audit failed", "step", stepCode, "kind", kind, "id", id, "err", err)
	}
}

func parseID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// ---------- accounts ----------

func (s *Server) handleListAccounts(c *gin.Context) {
	if _, _, ok := s.require(c, "dict:read"); !ok {
		return
	}
	q := s.gdb.WithContext(c.Request.Context()).Model(&dictionary.AccountsMaster{})
	if c.Query("include_inactive") != "true" {
		q = q.Where("active = ?", true)
	}
	var rows []dictionary.AccountsMaster
	if err := q.Order("code asc").Find(&rows).Error; err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

type accountIn struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Active      *bool  `json:"active"`
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	user, _, ok := s.require(c, "dict:manage")
	if !ok {
		return
	}
	var in accountIn
	if err := c.ShouldBindJSON(&in); err != nil || strings.TrimSpace(in.Code) == "" {
		s.respondError(c, http.StatusBadRequest, "bad_request", "code is required")
		return
	}
	row := dictionary.AccountsMaster{
		Code:        strings.TrimSpace(in.Code),
		Description: in.Description,
		Category:    in.Category,
		Active:      true,
		CreatedBy:   user,
		UpdatedBy:   user,
	}
	if in.Active != nil {
		row.Active = *in.Active
	}
	if err := s.gdb.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "create failed, code may already exist")
		return
	}
	s.dictAudit(c, workflow.StepDictAccountCreated, "account", row.ID, user, nil, row)
	c.JSON(http.StatusCreated, row)
}

func (s *Server) handleUpdateAccount(c *gin.Context) {
	user, _, ok := s.require(c, "dict:manage")
	if !ok {
		return
	}
	id, okID := parseID(c)
	if !okID {
		s.respondError(c, http.StatusBadRequest, "bad_request", "bad id")
		return
	}
	var in accountIn
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "malformed body")
		return
	}
	ctx := c.Request.Context()
	var row dictionary.AccountsMaster
	if err := s.gdb.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondError(c, http.StatusNotFound, "not_found", "no such account")
			return
		}
		s.respondError(c, http.StatusInternalServerError, "internal_error", "load failed")
		return
	}
	prev := row
	if in.Code != "" {
		row.Code = strings.TrimSpace(in.Code)
	}
	if in.Description != "" {
		row.Description = in.Description
	}
	if in.Category != "" {
		row.Category = in.Category
	}
	if in.Active != nil {
		row.Active = *in.Active
	}
	row.UpdatedBy = user
	if err := s.gdb.WithContext(ctx).Save(&row).Error; err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "update failed")
		return
	}
	s.dictAudit(c, workflow.StepDictAccountUpdated, "account", row.ID, user, prev, row)
	c.JSON(http.StatusOK, row)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	user, _, ok := s.require(c, "dict:manage")
	if !ok {
		return
	}
	id, okID := parseID(c)
	if !okID {
		s.respondError(c, http.StatusBadRequest, "bad_request", "bad id")
		return
	}
	ctx := c.Request.Context()
	var row dictionary.AccountsMaster
	if err := s.gdb.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondError(c, http.StatusNotFound, "not_found", "no such account")
			return
		}
		s.respondError(c, http.StatusInternalServerError, "internal_error", "load failed")
		return
	}
	if err := s.gdb.WithContext(ctx).Delete(&row).Error; err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "delete failed")
		return
	}
	s.dictAudit(c, workflow.StepDictAccountDeleted, "account", row.ID, user, row, nil)
	c.JSON(http.StatusOK, gin.H{"deleted": row.ID})
}

// ---------- facilities ----------

func (s *Server) handleListFacilities(c *gin.Context) {
	if _, _, ok := s.require(c, "dict:read"); !ok {
		return
	}
	q := s.gdb.WithContext(c.Request.Context()).Model(&dictionary.Facility{})
	if c.Query("include_inactive") != "true" {
		q = q.Where("active = ?", true)
	}
	var rows []dictionary.Facility
	if err := q.Order("code asc").Find(&rows).Error; err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

type facilityIn struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Region string `json:"region"`
	Active *bool  `json:"active"`
}

func (s *Server) handleCreateFacility(c *gin.Context) {
	user, _, ok := s.require(c, "dict:manage")
	if !ok {
		return
	}
	var in facilityIn
	if err := c.ShouldBindJSON(&in); err != nil || strings.TrimSpace(in.Code) == "" {
		s.respondError(c, http.StatusBadRequest, "bad_request", "code is required")
		return
	}
	row := dictionary.Facility{
		Code:      strings.TrimSpace(in.Code),
		Name:      in.Name,
		Region:    in.Region,
		Active:    true,
		CreatedBy: user,
		UpdatedBy: user,
	}
	if in.Active != nil {
		row.Active = *in.Active
	}
	if err := s.gdb.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "create failed, code may already exist")
		return
	}
	s.dictAudit(c, workflow.StepDictFacilityCreated, "facility", row.ID, user, nil, row)
	c.JSON(http.StatusCreated, row)
}

func (s *Server) handleUpdateFacility(c *gin.Context) {
	user, _, ok := s.require(c, "dict:manage")
	if !ok {
		return
	}
	id, okID := parseID(c)
	if !okID {
		s.respondError(c, http.StatusBadRequest, "bad_request", "bad id")
		return
	}
	var in facilityIn
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "malformed body")
		return
	}
	ctx := c.Request.Context()
	var row dictionary.Facility
	if err := s.gdb.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondError(c, http.StatusNotFound, "not_found", "no such facility")
			return
		}
		s.respondError(c, http.StatusInternalServerError, "internal_error", "load failed")
		return
	}
	prev := row
	if in.Code != "" {
		row.Code = strings.TrimSpace(in.Code)
	}
	if in.Name != "" {
		row.Name = in.Name
	}
	if in.Region != "" {
		row.Region = in.Region
	}
	if in.Active != nil {
		row.Active = *in.Active
	}
	row.UpdatedBy = user
	if err := s.gdb.WithContext(ctx).Save(&row).Error; err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "update failed")
		return
	}
	s.dictAudit(c, workflow.StepDictFacilityUpdated, "facility", row.ID, user, prev, row)
	c.JSON(http.StatusOK, row)
}

func (s *Server) handleDeleteFacility(c *gin.Context) {
	user, _, ok := s.require(c, "dict:manage")
	if !ok {
		return
	}
	id, okID := parseID(c)
	if !okID {
		s.respondError(c, http.StatusBadRequest, "bad_request", "bad id")
		return
	}
	ctx := c.Request.Context()
	var row dictionary.Facility
	if err := s.gdb.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondError(c, http.StatusNotFound, "not_found", "no such facility")
			return
		}
		s.respondError(c, http.StatusInternalServerError, "internal_error", "load failed")
		return
	}
	if err := s.gdb.WithContext(ctx).Delete(&row).Error; err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "delete failed")
		return
	}
	s.dictAudit(c, workflow.StepDictFacilityDeleted, "facility", row.ID, user, row, nil)
	c.JSON(http.StatusOK, gin.H{"deleted": row.ID})
}

// ---------- approvers ----------

func (s *Server) handleListApprovers(c *gin.Context) {
	if _, _, ok := s.require(c, "dict:read"); !ok {
		return
	}
	q := s.gdb.WithContext(c.Request.Context()).Model(&dictionary.ApproverEntry{})
	if c.Query("include_inactive") != "true" {
		q = q.Where("active = ?", true)
	}
	var rows []dictionary.ApproverEntry
	if err := q.Order("email asc").Find(&rows).Error; err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "list failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

type approverIn struct {
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Backups []string `json:"backups"`
	Active  *bool    `json:"active"`
}

func (s *Server) handleCreateApprover(c *gin.Context) {
	user, _, ok := s.require(c, "dict:manage")
	if !ok {
		return
	}
	var in approverIn
	if err := c.ShouldBindJSON(&in); err != nil || !strings.Contains(in.Email, "@") {
		s.respondError(c, http.StatusBadRequest, "bad_request", "valid email is required")
		return
	}
	row := dictionary.ApproverEntry{
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Name:      in.Name,
		Active:    true,
		CreatedBy: user,
		UpdatedBy: user,
	}
	row.SetBackups(in.Backups)
	if in.Active != nil {
		row.Active = *in.Active
	}
	if err := s.gdb.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "create failed, email may already exist")
		return
	}
	s.dictAudit(c, workflow.StepDictApproverCreated, "approver", row.ID, user, nil, row)
	c.JSON(http.StatusCreated, row)
}

func (s *Server) handleUpdateApprover(c *gin.Context) {
	user, _, ok := s.require(c, "dict:manage")
	if !ok {
		return
	}
	id, okID := parseID(c)
	if !okID {
		s.respondError(c, http.StatusBadRequest, "bad_request", "bad id")
		return
	}
	var in approverIn
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "malformed body")
		return
	}
	ctx := c.Request.Context()
	var row dictionary.ApproverEntry
	if err := s.gdb.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondError(c, http.StatusNotFound, "not_found", "no such approver")
			return
		}
		s.respondError(c, http.StatusInternalServerError, "internal_error", "load failed")
		return
	}
	prev := row
	if in.Email != "" {
		row.Email = strings.ToLower(strings.TrimSpace(in.Email))
	}
	if in.Name != "" {
		row.Name = in.Name
	}
	if in.Backups != nil {
		row.SetBackups(in.Backups)
	}
	if in.Active != nil {
		row.Active = *in.Active
	}
	row.UpdatedBy = user
	if err := s.gdb.WithContext(ctx).Save(&row).Error; err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "update failed")
		return
	}
	s.dictAudit(c, workflow.StepDictApproverUpdated, "approver", row.ID, user, prev, row)
	c.JSON(http.StatusOK, row)
}

func (s *Server) handleDeleteApprover(c *gin.Context) {
	user, _, ok := s.require(c, "dict:manage")
	if !ok {
		return
	}
	id, okID := parseID(c)
	if !okID {
		s.respondError(c, http.StatusBadRequest, "bad_request", "bad id")
		return
	}
	ctx := c.Request.Context()
	var row dictionary.ApproverEntry
	if err := s.gdb.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondError(c, http.StatusNotFound, "not_found", "no such approver")
			return
		}
		s.respondError(c, http.StatusInternalServerError, "internal_error", "load failed")
		return
	}
	if err := s.gdb.WithContext(ctx).Delete(&row).Error; err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "delete failed")
		return
	}
	s.dictAudit(c, workflow.StepDictApproverDeleted, "approver", row.ID, user, row, nil)
	c.JSON(http.StatusOK, gin.H{"deleted": row.ID})
}
