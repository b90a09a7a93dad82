package handler

import (
	"net/http"
	"strconv"
	"time"

	"corracoins/internal/model"
	"corracoins/internal/repository"
	"corracoins/internal/service"
	"corracoins/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const billDateLayout = "2006-01-02"

// Handler is the HTTP surface of the coin ledger.
type Handler struct {
	rewards   *service.RewardService
	approvals *service.ApprovalService
	balances  *service.BalanceService
}

func NewHandler(rewards *service.RewardService, approvals *service.ApprovalService, balances *service.BalanceService) *Handler {
	return &Handler{
		rewards:   rewards,
		approvals: approvals,
		balances:  balances,
	}
}

// GetBalance GET /api/v1/coins/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.balances.GetBalance(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, balance)
}

type rewardRequestBody struct {
	BrandID       int64  `json:"brand_id" binding:"required,gt=0"`
	BillAmount    int64  `json:"bill_amount" binding:"required,gt=0"`
	BillDate      string `json:"bill_date" binding:"required"`
	ReceiptURL    string `json:"receipt_url" binding:"required,max=512"`
	CoinsToRedeem int64  `json:"coins_to_redeem" binding:"gte=0"`
	UPIID         string `json:"upi_id" binding:"omitempty,upi"`
}

func (b rewardRequestBody) toRequest() (service.RewardRequest, error) {
	billDate, err := time.Parse(billDateLayout, b.BillDate)
	if err != nil {
		return service.RewardRequest{}, err
	}
	return service.RewardRequest{
		BrandID:       b.BrandID,
		BillAmount:    b.BillAmount,
		BillDate:      billDate,
		ReceiptURL:    b.ReceiptURL,
		CoinsToRedeem: b.CoinsToRedeem,
		UPIID:         b.UPIID,
	}, nil
}

func bindRewardRequest(c *gin.Context) (service.RewardRequest, bool) {
	var body rewardRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return service.RewardRequest{}, false
	}
	req, err := body.toRequest()
	if err != nil {
		response.ParamError(c, "bill_date must be formatted as YYYY-MM-DD")
		return service.RewardRequest{}, false
	}
	return req, true
}

// CreateReward POST /api/v1/coins/rewards
func (h *Handler) CreateReward(c *gin.Context) {
	req, ok := bindRewardRequest(c)
	if !ok {
		return
	}
	result, err := h.rewards.CreateRewardRequest(c.Request.Context(), currentOwner(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Response{
		Code:    response.CodeSuccess,
		Message: "reward request submitted for review",
		Data:    result,
	})
}

// PreviewReward POST /api/v1/coins/rewards/preview
func (h *Handler) PreviewReward(c *gin.Context) {
	req, ok := bindRewardRequest(c)
	if !ok {
		return
	}
	validated, err := h.rewards.PreviewRewardRequest(c.Request.Context(), currentOwner(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"net_bill_amount": validated.Calculation.NetBillAmount,
		"coins_earned":    validated.Calculation.CoinsEarned,
		"coins_redeemed":  validated.Calculation.CoinsToRedeem,
		"amount":          validated.Calculation.Amount(),
	})
}

// ListMyTransactions GET /api/v1/coins/transactions
func (h *Handler) ListMyTransactions(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	items, total, err := h.rewards.ListUserTransactions(c.Request.Context(), currentUserID(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Paged(c, items, total, filter.Page, filter.PageSize)
}

type claimBody struct {
	SessionID string `json:"session_id" binding:"required,max=64"`
}

// ClaimSession POST /api/v1/coins/claim
func (h *Handler) ClaimSession(c *gin.Context) {
	var body claimBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	result, err := h.rewards.ClaimSessionTransactions(c.Request.Context(), body.SessionID, currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// PendingSummary GET /api/v1/coins/pending
func (h *Handler) PendingSummary(c *gin.Context) {
	summary, err := h.rewards.GetPendingSummary(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, summary)
}

// WelcomeBonus POST /api/v1/coins/welcome-bonus
func (h *Handler) WelcomeBonus(c *gin.Context) {
	trans, err := h.balances.GrantWelcomeBonus(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

type approveBody struct {
	Notes string `json:"notes" binding:"max=512"`
}

// Approve POST /api/v1/admin/transactions/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body approveBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	trans, err := h.approvals.Approve(c.Request.Context(), id, currentAdminID(c), body.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

type reasonBody struct {
	Reason string `json:"reason" binding:"max=512"`
}

// Reject POST /api/v1/admin/transactions/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body reasonBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	trans, err := h.approvals.Reject(c.Request.Context(), id, currentAdminID(c), body.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

type paidBody struct {
	PaymentReference string `json:"payment_reference" binding:"max=128"`
	Notes            string `json:"notes" binding:"max=512"`
}

// MarkPaid POST /api/v1/admin/transactions/:id/paid
func (h *Handler) MarkPaid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body paidBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	trans, err := h.approvals.MarkAsPaid(c.Request.Context(), id, currentAdminID(c), body.PaymentReference, body.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

// MarkPayoutFailed POST /api/v1/admin/transactions/:id/payout-failed
func (h *Handler) MarkPayoutFailed(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body reasonBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	trans, err := h.approvals.MarkPayoutFailed(c.Request.Context(), id, currentAdminID(c), body.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

type adjustBody struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason" binding:"max=512"`
}

// AdjustBalance POST /api/v1/admin/users/:id/adjust
func (h *Handler) AdjustBalance(c *gin.Context) {
	userID, ok := pathID(c)
	if !ok {
		return
	}
	var body adjustBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	trans, err := h.balances.AdjustBalance(c.Request.Context(), userID, currentAdminID(c), body.Delta, body.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trans)
}

// ListTransactions GET /api/v1/admin/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.ParamError(c, "user_id must be an integer")
			return
		}
		filter.UserID = &id
	}
	items, total, err := h.rewards.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Paged(c, items, total, filter.Page, filter.PageSize)
}

type filterQuery struct {
	Status   string `form:"status"`
	Type     string `form:"type"`
	BrandID  *int64 `form:"brand_id"`
	Search   string `form:"search" binding:"max=100"`
	Page     int    `form:"page" binding:"gte=0"`
	PageSize int    `form:"page_size" binding:"gte=0,lte=100"`
}

func bindFilter(c *gin.Context) (repository.TransactionFilter, bool) {
	var q filterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, "invalid query: "+err.Error())
		return repository.TransactionFilter{}, false
	}
	status := model.TransactionStatus(q.Status)
	if q.Status != "" && !status.Valid() {
		response.ParamError(c, "unknown status "+q.Status)
		return repository.TransactionFilter{}, false
	}
	txType := model.TransactionType(q.Type)
	if q.Type != "" && !txType.Valid() {
		response.ParamError(c, "unknown type "+q.Type)
		return repository.TransactionFilter{}, false
	}

	filter := repository.TransactionFilter{
		Status:   status,
		Type:     txType,
		BrandID:  q.BrandID,
		Search:   q.Search,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	return filter, true
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

var businessCodes = map[string]int{
	service.CodeInsufficientBalance: response.CodeInsufficientBalance,
	service.CodeNegativeBalance:     response.CodeInsufficientBalance,
	service.CodeDuplicateRequest:    response.CodeDuplicateRequest,
	service.CodeBrandLimit:          response.CodeBrandLimit,
	service.CodeEarningLimit:        response.CodeBrandLimit,
	service.CodeInvalidUPI:          response.CodeInvalidPayoutID,
	service.CodeOutOfOrder:          response.CodeOutOfOrder,
	service.CodeNotPending:          response.CodeNotPending,
	service.CodeInvalidBillAmount:   response.CodeInvalidBill,
	service.CodeInvalidBillDate:     response.CodeInvalidBill,
	service.CodeRedeemExceedsBill:   response.CodeInvalidBill,
	service.CodeNoOwner:             response.CodeNoOwner,
	service.CodeSignInToRedeem:      response.CodeNoOwner,
}

// writeError maps ledger errors to the response envelope. Anything else is
// an internal failure and its detail stays in the log.
func writeError(c *gin.Context, err error) {
	le, ok := service.AsLedgerError(err)
	if !ok {
		logrus.WithError(err).WithFields(logrus.Fields{
			"path":       c.FullPath(),
			"request_id": c.GetString(requestIDKey),
		}).Error("request failed")
		response.ServerError(c, "internal error, please retry")
		return
	}

	switch le.Kind {
	case service.ErrNotFound:
		response.NotFound(c, le.Message)
	case service.ErrConflict:
		response.Conflict(c, le.Message)
	default:
		code, ok := businessCodes[le.Code]
		if !ok {
			code = response.CodeBusinessError
		}
		response.BusinessError(c, code, le.Message)
	}
}
