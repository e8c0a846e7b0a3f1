package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classworks/edumarket-api/internal/models"
	"github.com/classworks/edumarket-api/internal/service"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
	"github.com/classworks/edumarket-api/pkg/payment"
	"github.com/classworks/edumarket-api/pkg/response"
)

// EnrollmentHandler exposes course enrollment endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs handler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Enroll godoc
// @Summary Enroll in a course
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	identity, _ := identityFromContext(c)
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), identity.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// ownedEnrollment loads the enrollment in the path and enforces that student
// callers only reach their own records. On failure the response is already
// written.
func (h *EnrollmentHandler) ownedEnrollment(c *gin.Context) (*models.CourseEnrollment, bool) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	identity, _ := identityFromContext(c)
	if identity.Role == models.RoleStudent && enrollment.StudentID != identity.UserID {
		response.Error(c, appErrors.ErrForbidden)
		return nil, false
	}
	return enrollment, true
}

// CompletePayment godoc
// @Summary Complete enrollment payment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body payment.Assertion true "Gateway assertion"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/payment [post]
func (h *EnrollmentHandler) CompletePayment(c *gin.Context) {
	var assertion payment.Assertion
	if err := c.ShouldBindJSON(&assertion); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	owned, ok := h.ownedEnrollment(c)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.CompletePayment(c.Request.Context(), owned.ID, assertion)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Cancel godoc
// @Summary Cancel a pending enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/cancel [post]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	owned, ok := h.ownedEnrollment(c)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.Cancel(c.Request.Context(), owned.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// UpdateProgress godoc
// @Summary Record video progress
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.UpdateProgressRequest true "Progress payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/progress [put]
func (h *EnrollmentHandler) UpdateProgress(c *gin.Context) {
	var req service.UpdateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	owned, ok := h.ownedEnrollment(c)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.UpdateProgress(c.Request.Context(), owned.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, ok := h.ownedEnrollment(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// ListMine godoc
// @Summary List the caller's enrollments
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) ListMine(c *gin.Context) {
	identity, _ := identityFromContext(c)
	enrollments, err := h.enrollments.ListByStudent(c.Request.Context(), identity.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}
