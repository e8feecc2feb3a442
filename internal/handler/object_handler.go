package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"darkpool-indexer/internal/handler/request"
	"darkpool-indexer/internal/handler/response"
	"darkpool-indexer/internal/service/applicator"
	"darkpool-indexer/pkg/errno"
	"darkpool-indexer/pkg/logger"
	"darkpool-indexer/pkg/stream"
	"darkpool-indexer/pkg/validator"
)

type ObjectService interface {
	Lookup(ctx context.Context, recoveryID stream.Scalar) (*applicator.Object, error)
}

type ObjectHandler struct {
	svc ObjectService
}

func NewObjectHandler(svc ObjectService) *ObjectHandler {
	return &ObjectHandler{svc: svc}
}

// GetObject 按恢复 ID 查询单个余额或意图
func (h *ObjectHandler) GetObject(c *gin.Context) {
	var uri request.ObjectURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, errno.ErrInvalidRecoveryID.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	// binding 已校验过格式
	rid := stream.MustParseScalar(uri.RecoveryID)

	obj, err := h.svc.Lookup(c.Request.Context(), rid)
	if errors.Is(err, applicator.ErrUnknownObject) {
		response.Error(c, errno.ErrObjectNotFound)
		return
	}
	if err != nil {
		logger.Error("Lookup object failed", zap.String("recovery_id", rid.Hex()), zap.Error(err))
		response.Error(c, errno.ErrDatabase)
		return
	}
	response.Success(c, obj)
}
