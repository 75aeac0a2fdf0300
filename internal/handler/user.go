package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/TimeChat/internal/service"
)

type UserHandler struct {
	userService service.IUserService
}

func NewUserHandler(userService service.IUserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// Search handles GET /users?search=
func (h *UserHandler) Search(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	users, err := h.userService.Search(c.Request.Context(), userID, c.Query("search"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.userService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}
