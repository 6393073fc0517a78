package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/skillvault/internal/idgen"
	"github.com/mbd888/skillvault/internal/validation"
)

// Handler provides HTTP endpoints for balance and journal queries plus
// deposit/withdraw.
type Handler struct {
	ledger *Ledger
	asset  string
}

// NewHandler creates a new ledger handler.
func NewHandler(l *Ledger, asset string) *Handler {
	return &Handler{ledger: l, asset: asset}
}

// RegisterRoutes sets up public (read-only) ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:address/balance", h.GetBalance)
	r.GET("/accounts/:address/history", h.GetHistory)
}

// RegisterProtectedRoutes sets up protected (auth-required) ledger routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/:address/deposit", h.Deposit)
	r.POST("/accounts/:address/withdraw", h.Withdraw)
}

type depositRequest struct {
	Amount string `json:"amount" binding:"required"`
	TxRef  string `json:"txRef"`
}

type withdrawRequest struct {
	Amount string `json:"amount" binding:"required"`
	TxRef  string `json:"txRef"`
}

// GetBalance handles GET /v1/accounts/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	address := c.Param("address")

	bal, err := h.ledger.GetBalance(c.Request.Context(), address, h.asset)
	if err != nil {
		if errors.Is(err, ErrInvalidAccount) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account has no balance",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// GetHistory handles GET /v1/accounts/:address/history
func (h *Handler) GetHistory(c *gin.Context) {
	address := c.Param("address")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Deposit handles POST /v1/accounts/:address/deposit
func (h *Handler) Deposit(c *gin.Context) {
	address := c.Param("address")
	if !authorizedFor(c, address) {
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Amount is required",
		})
		return
	}
	if errs := validation.Validate(validation.ValidAmount("amount", req.Amount)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
		})
		return
	}

	txRef := req.TxRef
	if txRef == "" {
		txRef = idgen.WithPrefix("dep_")
	}

	if err := h.ledger.Deposit(c.Request.Context(), address, h.asset, req.Amount, txRef); err != nil {
		h.writeError(c, err)
		return
	}

	bal, _ := h.ledger.GetBalance(c.Request.Context(), address, h.asset)
	c.JSON(http.StatusOK, gin.H{"balance": bal, "txRef": txRef})
}

// Withdraw handles POST /v1/accounts/:address/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	address := c.Param("address")
	if !authorizedFor(c, address) {
		return
	}

	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Amount is required",
		})
		return
	}

	txRef := req.TxRef
	if txRef == "" {
		txRef = idgen.WithPrefix("wd_")
	}

	if err := h.ledger.Withdraw(c.Request.Context(), address, h.asset, req.Amount, txRef); err != nil {
		h.writeError(c, err)
		return
	}

	bal, _ := h.ledger.GetBalance(c.Request.Context(), address, h.asset)
	c.JSON(http.StatusOK, gin.H{"balance": bal, "txRef": txRef})
}

// authorizedFor rejects requests where the authenticated agent does not own
// the target account.
func authorizedFor(c *gin.Context, address string) bool {
	caller := c.GetString("authAgentAddr")
	if caller == "" || normalize(caller) != normalize(address) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Authenticated agent must own this account",
		})
		return false
	}
	return true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrInvalidAccount):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
		code = "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, ErrDuplicateDeposit):
		status = http.StatusConflict
		code = "duplicate_deposit"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
