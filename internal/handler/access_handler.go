package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classworks/edumarket-api/internal/models"
	"github.com/classworks/edumarket-api/internal/service"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
	"github.com/classworks/edumarket-api/pkg/response"
)

// AccessHandler exposes the access gate to content-serving collaborators.
type AccessHandler struct {
	gate *service.AccessService
}

// NewAccessHandler constructs handler.
func NewAccessHandler(gate *service.AccessService) *AccessHandler {
	return &AccessHandler{gate: gate}
}

// Check godoc
// @Summary Evaluate access to a protected resource
// @Tags Access
// @Accept json
// @Produce json
// @Param payload body models.ResourceRef true "Resource reference"
// @Success 200 {object} response.Envelope
// @Router /access/check [post]
func (h *AccessHandler) Check(c *gin.Context) {
	var ref models.ResourceRef
	if err := c.ShouldBindJSON(&ref); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	identity, _ := identityFromContext(c)
	decision, err := h.gate.CanAccess(c.Request.Context(), identity, ref)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}
