package validator

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
)

type objectURI struct {
	RecoveryID string `binding:"required,scalar"`
}

func TestScalarTag(t *testing.T) {
	Init()

	assert.NoError(t, binding.Validator.ValidateStruct(&objectURI{RecoveryID: "0x1f"}))

	err := binding.Validator.ValidateStruct(&objectURI{RecoveryID: "0xzz"})
	assert.Error(t, err)
	assert.Equal(t, "RecoveryID 必须是十六进制标量", GetErrorMsg(err))

	err = binding.Validator.ValidateStruct(&objectURI{})
	assert.Equal(t, "RecoveryID 不能为空", GetErrorMsg(err))
}

func TestGetErrorMsgFallback(t *testing.T) {
	assert.Equal(t, "请求参数错误", GetErrorMsg(assert.AnError))
}
