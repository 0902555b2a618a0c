// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"recetario-go/internal/service"
	"recetario-go/pkg/apperr"
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}

// fail 把分类错误转换为 HTTP 状态码和面向用户的提示。
func fail(c *gin.Context, action string, err error) {
	status := apperr.KindOf(err).StatusCode()
	c.JSON(status, gin.H{"code": status, "message": service.UserMessage(action, err), "data": nil})
}
