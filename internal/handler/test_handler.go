package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classworks/edumarket-api/internal/service"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
	"github.com/classworks/edumarket-api/pkg/response"
)

// TestHandler exposes assessment roster and evaluation endpoints.
type TestHandler struct {
	tests *service.TestService
}

// NewTestHandler constructs handler.
func NewTestHandler(tests *service.TestService) *TestHandler {
	return &TestHandler{tests: tests}
}

// Create godoc
// @Summary Create a test
// @Tags Tests
// @Accept json
// @Produce json
// @Param payload body service.CreateTestRequest true "Test payload"
// @Success 201 {object} response.Envelope
// @Router /tests [post]
func (h *TestHandler) Create(c *gin.Context) {
	var req service.CreateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	identity, _ := identityFromContext(c)
	test, err := h.tests.Create(c.Request.Context(), identity.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, test)
}

// Get godoc
// @Summary Get test
// @Tags Tests
// @Produce json
// @Param id path string true "Test ID"
// @Success 200 {object} response.Envelope
// @Router /tests/{id} [get]
func (h *TestHandler) Get(c *gin.Context) {
	test, err := h.tests.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, test, nil)
}

// AssignStudents godoc
// @Summary Add eligible students to the test roster
// @Tags Tests
// @Accept json
// @Produce json
// @Param id path string true "Test ID"
// @Param payload body service.AssignTestStudentsRequest true "Roster payload"
// @Success 200 {object} response.Envelope
// @Router /tests/{id}/students [post]
func (h *TestHandler) AssignStudents(c *gin.Context) {
	var req service.AssignTestStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.tests.AssignStudents(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Submit godoc
// @Summary Record the caller's submission
// @Tags Tests
// @Produce json
// @Param id path string true "Test ID"
// @Success 200 {object} response.Envelope
// @Router /tests/{id}/submission [post]
func (h *TestHandler) Submit(c *gin.Context) {
	identity, _ := identityFromContext(c)
	if err := h.tests.RecordSubmission(c.Request.Context(), c.Param("id"), identity.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "submitted"}, nil)
}

// RecordMarks godoc
// @Summary Evaluate a roster entry
// @Tags Tests
// @Accept json
// @Produce json
// @Param id path string true "Test ID"
// @Param payload body service.RecordMarksRequest true "Marks payload"
// @Success 200 {object} response.Envelope
// @Router /tests/{id}/marks [post]
func (h *TestHandler) RecordMarks(c *gin.Context) {
	var req service.RecordMarksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.tests.RecordMarks(c.Request.Context(), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "evaluated"}, nil)
}

// Roster godoc
// @Summary List test roster
// @Tags Tests
// @Produce json
// @Param id path string true "Test ID"
// @Success 200 {object} response.Envelope
// @Router /tests/{id}/roster [get]
func (h *TestHandler) Roster(c *gin.Context) {
	roster, err := h.tests.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// Statistics godoc
// @Summary Recomputed test statistics
// @Tags Tests
// @Produce json
// @Param id path string true "Test ID"
// @Success 200 {object} response.Envelope
// @Router /tests/{id}/statistics [get]
func (h *TestHandler) Statistics(c *gin.Context) {
	stats, err := h.tests.Statistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
