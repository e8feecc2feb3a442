package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"darkpool-indexer/internal/event"
	"darkpool-indexer/internal/handler/request"
	"darkpool-indexer/internal/handler/response"
	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/pkg/errno"
	"darkpool-indexer/pkg/logger"
	"darkpool-indexer/pkg/validator"
)

type MessageHandler struct {
	queue mq.Queue
}

func NewMessageHandler(queue mq.Queue) *MessageHandler {
	return &MessageHandler{queue: queue}
}

// Submit 上游服务投递消息。链上事件只能由监听器产生，这里只接受开户消息
func (h *MessageHandler) Submit(c *gin.Context) {
	// 1. 绑定参数
	var req request.SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	if event.Type(req.Type) != event.TypeRegisterMasterViewSeed {
		response.Error(c, errno.ErrUnsupportedSubmit)
		return
	}

	// 2. 校验载荷
	env := &event.Envelope{Type: event.Type(req.Type), Payload: req.Payload}
	ev, err := env.RegisterMasterViewSeed()
	if err != nil {
		response.Error(c, errno.ErrInvalidMessage)
		return
	}
	body, err := env.Marshal()
	if err != nil {
		response.Error(c, errno.ErrInvalidMessage)
		return
	}

	// 3. 入队
	id, err := h.queue.Send(c.Request.Context(), &mq.Message{Key: ev.AccountID.String(), Payload: body})
	if err != nil {
		logger.Error("Submit message failed", zap.Stringer("account_id", ev.AccountID), zap.Error(err))
		response.Error(c, errno.ErrQueue)
		return
	}
	response.Success(c, gin.H{"message_id": id})
}
