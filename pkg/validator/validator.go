package validator

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"darkpool-indexer/pkg/stream"
)

var validate *validator.Validate

// Init 在 Gin 的校验引擎上注册自定义 tag，需在创建路由前调用
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		validate = v
		// scalar: 十六进制编码、落在域内的标量 (恢复 ID、nullifier、种子)
		_ = validate.RegisterValidation("scalar", func(fl validator.FieldLevel) bool {
			_, err := stream.ParseScalar(fl.Field().String())
			return err == nil
		})
	}
}

// GetErrorMsg translates validation errors into user-friendly messages
func GetErrorMsg(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errMsgs []string
		for _, e := range validationErrors {
			field := e.Field()
			tag := e.Tag()
			param := e.Param()

			switch tag {
			case "required":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 不能为空", field))
			case "uuid":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 UUID", field))
			case "scalar":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是十六进制标量", field))
			case "oneof":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 [%s] 之一", field, param))
			default:
				errMsgs = append(errMsgs, fmt.Sprintf("%s 校验失败 (%s)", field, tag))
			}
		}
		return strings.Join(errMsgs, "; ")
	}
	return "请求参数错误"
}
