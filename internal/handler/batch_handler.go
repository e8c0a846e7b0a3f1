package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/classworks/edumarket-api/internal/models"
	"github.com/classworks/edumarket-api/internal/service"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
	"github.com/classworks/edumarket-api/pkg/response"
)

// BatchHandler exposes batch and roster endpoints.
type BatchHandler struct {
	batches *service.BatchService
}

// NewBatchHandler constructs handler.
func NewBatchHandler(batches *service.BatchService) *BatchHandler {
	return &BatchHandler{batches: batches}
}

// Create godoc
// @Summary Create batch
// @Tags Batches
// @Accept json
// @Produce json
// @Param payload body service.CreateBatchRequest true "Batch payload"
// @Success 201 {object} response.Envelope
// @Router /batches [post]
func (h *BatchHandler) Create(c *gin.Context) {
	var req service.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	identity, _ := identityFromContext(c)
	batch, err := h.batches.Create(c.Request.Context(), identity.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, batch)
}

// List godoc
// @Summary List batches
// @Tags Batches
// @Produce json
// @Param search query string false "Name search"
// @Param active query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /batches [get]
func (h *BatchHandler) List(c *gin.Context) {
	filter := models.BatchFilter{Search: c.Query("search")}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err == nil {
			filter.Active = &active
		}
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	batches, pagination, err := h.batches.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, pagination)
}

// Get godoc
// @Summary Get batch detail
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id} [get]
func (h *BatchHandler) Get(c *gin.Context) {
	batch, err := h.batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// AssignStudents godoc
// @Summary Assign students to batch
// @Tags Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body service.AssignStudentsRequest true "Assignments payload"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/students [post]
func (h *BatchHandler) AssignStudents(c *gin.Context) {
	var req service.AssignStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.batches.AssignStudents(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

type removeStudentsRequest struct {
	StudentIDs []string `json:"student_ids" binding:"required,min=1"`
}

// RemoveStudents godoc
// @Summary Remove students from batch
// @Tags Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body removeStudentsRequest true "Student ids"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/students [delete]
func (h *BatchHandler) RemoveStudents(c *gin.Context) {
	var req removeStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	removed, err := h.batches.RemoveStudents(c.Request.Context(), c.Param("id"), req.StudentIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"removed": removed}, nil)
}

// AssignTeacher godoc
// @Summary Assign teacher to batch subject
// @Tags Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param subjectId path string true "Subject ID"
// @Param payload body service.AssignTeacherRequest true "Teacher payload"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/subjects/{subjectId}/teacher [put]
func (h *BatchHandler) AssignTeacher(c *gin.Context) {
	var req service.AssignTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	subject, err := h.batches.AssignTeacher(c.Request.Context(), c.Param("id"), c.Param("subjectId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subject, nil)
}

// EligibleStudents godoc
// @Summary Eligible students for a class/subject pair
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Param class query string true "Class label"
// @Param subject query string true "Subject name"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/eligible-students [get]
func (h *BatchHandler) EligibleStudents(c *gin.Context) {
	className := c.Query("class")
	subjectName := c.Query("subject")
	if className == "" || subjectName == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "class and subject query parameters are required"))
		return
	}
	students, err := h.batches.EligibleStudents(c.Request.Context(), c.Param("id"), className, subjectName)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"student_ids": students}, nil)
}

// Deactivate godoc
// @Summary Soft delete batch
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 204 "No Content"
// @Router /batches/{id} [delete]
func (h *BatchHandler) Deactivate(c *gin.Context) {
	if err := h.batches.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
