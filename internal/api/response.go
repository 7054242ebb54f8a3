package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"staffHub/internal/access"
	"staffHub/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// Denied 返回 403，并在远程校验降级时附带 warning。
func Denied(c *gin.Context, d access.Decision) {
	body := gin.H{"error": "access denied"}
	if d.Degraded {
		body["warning"] = "remote storage unavailable, access could not be verified"
	} else if d.Reason != "" {
		body["warning"] = d.Reason
	}
	c.JSON(http.StatusForbidden, body)
}

// statusOf 将错误分类映射为 HTTP 状态码。
func statusOf(err error) int {
	switch errcode.KindOf(err) {
	case errcode.KindValidation:
		return http.StatusBadRequest
	case errcode.KindNotFound:
		return http.StatusNotFound
	case errcode.KindAuthorization:
		return http.StatusForbidden
	case errcode.KindConflict:
		return http.StatusConflict
	case errcode.KindRemoteBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondError 按错误分类写入响应，5xx 记录错误日志。
func RespondError(c *gin.Context, log *slog.Logger, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Any("error", err))
		Error(c, status, errcode.MessageOf(err))
		return
	}
	Error(c, status, errcode.MessageOf(err))
}
