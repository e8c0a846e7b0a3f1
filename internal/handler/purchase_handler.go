package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classworks/edumarket-api/internal/models"
	"github.com/classworks/edumarket-api/internal/service"
	appErrors "github.com/classworks/edumarket-api/pkg/errors"
	"github.com/classworks/edumarket-api/pkg/payment"
	"github.com/classworks/edumarket-api/pkg/response"
	"github.com/classworks/edumarket-api/pkg/storage"
)

// PurchaseHandler exposes notes purchase, download and receipt endpoints.
type PurchaseHandler struct {
	purchases *service.PurchaseService
	gate      *service.AccessService
	tokens    *storage.DownloadTokenSigner
}

// NewPurchaseHandler constructs handler.
func NewPurchaseHandler(purchases *service.PurchaseService, gate *service.AccessService, tokens *storage.DownloadTokenSigner) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, gate: gate, tokens: tokens}
}

// Purchase godoc
// @Summary Purchase a notes item
// @Tags Purchases
// @Accept json
// @Produce json
// @Param payload body service.PurchaseRequest true "Purchase payload"
// @Success 201 {object} response.Envelope
// @Router /purchases [post]
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	identity, _ := identityFromContext(c)
	purchase, err := h.purchases.Purchase(c.Request.Context(), identity.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, purchase)
}

// ownedPurchase loads the purchase in the path and enforces that student
// callers only reach their own records. On failure the response is already
// written.
func (h *PurchaseHandler) ownedPurchase(c *gin.Context) (*models.NotesPurchase, bool) {
	purchase, err := h.purchases.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	identity, _ := identityFromContext(c)
	if identity.Role == models.RoleStudent && purchase.StudentID != identity.UserID {
		response.Error(c, appErrors.ErrForbidden)
		return nil, false
	}
	return purchase, true
}

// CompletePayment godoc
// @Summary Complete purchase payment
// @Tags Purchases
// @Accept json
// @Produce json
// @Param id path string true "Purchase ID"
// @Param payload body payment.Assertion true "Gateway assertion"
// @Success 200 {object} response.Envelope
// @Router /purchases/{id}/payment [post]
func (h *PurchaseHandler) CompletePayment(c *gin.Context) {
	var assertion payment.Assertion
	if err := c.ShouldBindJSON(&assertion); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	owned, ok := h.ownedPurchase(c)
	if !ok {
		return
	}
	purchase, err := h.purchases.CompletePayment(c.Request.Context(), owned.ID, assertion)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, purchase, nil)
}

// Cancel godoc
// @Summary Cancel a pending purchase
// @Tags Purchases
// @Produce json
// @Param id path string true "Purchase ID"
// @Success 200 {object} response.Envelope
// @Router /purchases/{id}/cancel [post]
func (h *PurchaseHandler) Cancel(c *gin.Context) {
	owned, ok := h.ownedPurchase(c)
	if !ok {
		return
	}
	purchase, err := h.purchases.Cancel(c.Request.Context(), owned.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, purchase, nil)
}

// Get godoc
// @Summary Get purchase
// @Tags Purchases
// @Produce json
// @Param id path string true "Purchase ID"
// @Success 200 {object} response.Envelope
// @Router /purchases/{id} [get]
func (h *PurchaseHandler) Get(c *gin.Context) {
	purchase, ok := h.ownedPurchase(c)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, purchase, nil)
}

// ListMine godoc
// @Summary List the caller's purchases
// @Tags Purchases
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /purchases [get]
func (h *PurchaseHandler) ListMine(c *gin.Context) {
	identity, _ := identityFromContext(c)
	purchases, err := h.purchases.ListByStudent(c.Request.Context(), identity.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, purchases, nil)
}

type downloadRequest struct {
	PDFID string `json:"pdf_id" binding:"required"`
}

// Download godoc
// @Summary Request a signed download token for a purchased PDF
// @Tags Purchases
// @Accept json
// @Produce json
// @Param id path string true "Purchase ID"
// @Param payload body downloadRequest true "Download payload"
// @Success 200 {object} response.Envelope
// @Router /purchases/{id}/download [post]
func (h *PurchaseHandler) Download(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	purchase, ok := h.ownedPurchase(c)
	if !ok {
		return
	}

	identity, _ := identityFromContext(c)
	ref := models.ResourceRef{Kind: models.ResourceNotesPDF, ResourceID: purchase.NotesID}
	if _, err := h.gate.Authorize(c.Request.Context(), identity, ref); err != nil {
		response.Error(c, err)
		return
	}

	meta := models.RequesterMeta{IPAddress: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
	if _, err := h.purchases.RecordAccess(c.Request.Context(), purchase.ID, req.PDFID, meta); err != nil {
		response.Error(c, err)
		return
	}

	token, expiresAt, err := h.tokens.Generate(purchase.ID, req.PDFID)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token"))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"token": token, "expires_at": expiresAt}, nil)
}

// History godoc
// @Summary Download audit trail for a purchase
// @Tags Purchases
// @Produce json
// @Param id path string true "Purchase ID"
// @Success 200 {object} response.Envelope
// @Router /purchases/{id}/history [get]
func (h *PurchaseHandler) History(c *gin.Context) {
	owned, ok := h.ownedPurchase(c)
	if !ok {
		return
	}
	records, err := h.purchases.DownloadHistory(c.Request.Context(), owned.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Receipt godoc
// @Summary Export purchase receipt as PDF
// @Tags Purchases
// @Produce application/pdf
// @Param id path string true "Purchase ID"
// @Success 200 {file} binary
// @Router /purchases/{id}/receipt [get]
func (h *PurchaseHandler) Receipt(c *gin.Context) {
	owned, ok := h.ownedPurchase(c)
	if !ok {
		return
	}
	data, err := h.purchases.Receipt(c.Request.Context(), owned.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=receipt.pdf")
	c.Data(http.StatusOK, "application/pdf", data)
}
