package handler

import (
	"ledger-mirror/internal/adapter/http/dto"
	"ledger-mirror/internal/core/ports"
	"ledger-mirror/pkg/apperror"
	"ledger-mirror/pkg/response"
	"ledger-mirror/pkg/units"

	"github.com/gin-gonic/gin"
)

const defaultArchiveLimit = 50

// MirrorHandler renders the mirror and forwards the three user actions.
type MirrorHandler struct {
	svc ports.MirrorService
}

// NewMirrorHandler creates a new MirrorHandler.
func NewMirrorHandler(svc ports.MirrorService) *MirrorHandler {
	return &MirrorHandler{svc: svc}
}

// GetView handles GET /api/v1/view.
func (h *MirrorHandler) GetView(c *gin.Context) {
	response.OK(c, dto.NewViewResponse(h.svc.View()))
}

// GetSummary handles GET /api/v1/ledger/summary.
func (h *MirrorHandler) GetSummary(c *gin.Context) {
	response.OK(c, dto.NewSummaryResponse(h.svc.Summary()))
}

// ListEntries handles GET /api/v1/ledger/entries.
func (h *MirrorHandler) ListEntries(c *gin.Context) {
	response.OK(c, dto.NewEntryResponses(h.svc.RecentEntries()))
}

// ListArchive handles GET /api/v1/ledger/archive?limit=N.
func (h *MirrorHandler) ListArchive(c *gin.Context) {
	var q dto.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultArchiveLimit
	}

	entries, err := h.svc.ArchivedEntries(c.Request.Context(), q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewEntryResponses(entries))
}

// ListTransactions handles GET /api/v1/transactions.
func (h *MirrorHandler) ListTransactions(c *gin.Context) {
	response.OK(c, dto.NewTransactionResponses(h.svc.Pending()))
}

// Connect handles POST /api/v1/wallet/connect.
func (h *MirrorHandler) Connect(c *gin.Context) {
	account, err := h.svc.Connect(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.AccountResponse{
		Account: account.Hex(),
		Short:   units.ShortAddress(account),
		IsOwner: h.svc.Summary().Owner == account,
	})
}

// SubmitAppend handles POST /api/v1/transactions/append.
func (h *MirrorHandler) SubmitAppend(c *gin.Context) {
	var req dto.AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	amount, err := req.MinorUnits()
	if err != nil {
		response.Error(c, err)
		return
	}

	tx, err := h.svc.SubmitAppend(c.Request.Context(), req.Text, amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.NewTransactionResponse(tx))
}

// SubmitWithdraw handles POST /api/v1/transactions/withdraw.
func (h *MirrorHandler) SubmitWithdraw(c *gin.Context) {
	tx, err := h.svc.SubmitWithdraw(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.NewTransactionResponse(tx))
}

// Dismiss handles DELETE /api/v1/transactions/:client_id.
func (h *MirrorHandler) Dismiss(c *gin.Context) {
	var p dto.ClientIDParam
	if err := c.ShouldBindUri(&p); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.svc.Dismiss(p.ClientID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"client_id": p.ClientID, "dismissed": true})
}
