package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"darkpool-indexer/internal/handler/request"
	"darkpool-indexer/internal/handler/response"
	"darkpool-indexer/internal/service/applicator"
	"darkpool-indexer/pkg/errno"
	"darkpool-indexer/pkg/logger"
)

// AccountService is the slice of the applicator the account routes use.
type AccountService interface {
	GetState(ctx context.Context, account uuid.UUID) (*applicator.State, error)
	Backfill(ctx context.Context, account uuid.UUID) (applicator.BackfillResult, error)
}

type AccountHandler struct {
	svc AccountService
}

func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// GetState 查询账户当前所有余额与意图
func (h *AccountHandler) GetState(c *gin.Context) {
	account, ok := bindAccount(c)
	if !ok {
		return
	}

	state, err := h.svc.GetState(c.Request.Context(), account)
	if err != nil {
		accountError(c, "get state", account, err)
		return
	}
	response.Success(c, state)
}

// Backfill 补齐缓冲区并重放未匹配事件
func (h *AccountHandler) Backfill(c *gin.Context) {
	account, ok := bindAccount(c)
	if !ok {
		return
	}

	res, err := h.svc.Backfill(c.Request.Context(), account)
	if err != nil {
		accountError(c, "backfill", account, err)
		return
	}
	response.Success(c, res)
}

func bindAccount(c *gin.Context) (uuid.UUID, bool) {
	var uri request.AccountURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, errno.ErrInvalidAccountID)
		return uuid.Nil, false
	}
	account, err := uuid.Parse(uri.ID)
	if err != nil {
		response.Error(c, errno.ErrInvalidAccountID)
		return uuid.Nil, false
	}
	return account, true
}

func accountError(c *gin.Context, op string, account uuid.UUID, err error) {
	if errors.Is(err, applicator.ErrUnknownAccount) {
		response.Error(c, errno.ErrAccountNotFound)
		return
	}
	logger.Error("Account request failed", zap.String("op", op), zap.Stringer("account_id", account), zap.Error(err))
	response.Error(c, errno.ErrDatabase)
}
