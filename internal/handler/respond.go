package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
)

// Context keys set by the auth middleware.
const (
	ContextUserID   = "user_id"
	ContextUserName = "user_name"
)

// Notifier pushes chat lifecycle events to connected users.
type Notifier interface {
	NotifyUsers(userIDs []string, event string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) NotifyUsers([]string, string, any) {}

func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return "", false
	}
	return userID, true
}

// bind decodes the JSON body into req and answers 400 when it does not fit.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
		return false
	}
	return true
}

// fail writes err as {"error", "code"} with the status of its kind. The
// error is attached to the context for the request logger.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(errs.HTTPStatus(err), gin.H{
		"error": errs.MessageOf(err),
		"code":  errs.CodeOf(err),
	})
}
