package response

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

// codeError carries an errcode value through proxyutil, which renders it as
// {"code", "msg"} with HTTP 200.
type codeError struct {
	code uint32
	msg  string
}

func (e codeError) Error() string {
	return e.msg
}

func (e codeError) Code() uint32 {
	return e.code
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, 200, codeError{code: uint32(code), msg: message})
}
