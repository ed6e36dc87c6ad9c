package handler

import (
	"net/http"
	"strconv"

	"ckd-backend/internal/middleware"
	"ckd-backend/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserHandler struct {
	userService service.UserService
	logger      *zap.Logger
}

func NewUserHandler(userService service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, logger: logger}
}

type UpdateAccountRequest struct {
	Email       *string `json:"email" binding:"omitempty,email"`
	PhoneNumber *string `json:"phone_number" binding:"omitempty,max=15"`
	Password    *string `json:"password" binding:"omitempty,min=4"`
}

// Me returns the caller's profile.
// GET /api/patient/me/
func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.userService.GetProfile(c.Request.Context(), middleware.ActorFrom(c).UserID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to fetch profile")
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateAccount changes the caller's email, phone number or password.
// PUT /api/account
func (h *UserHandler) UpdateAccount(c *gin.Context) {
	var req UpdateAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.userService.UpdateAccount(c.Request.Context(), middleware.ActorFrom(c).UserID, service.UpdateAccountInput{
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Password:    req.Password,
	})
	if err != nil {
		respondError(c, h.logger, err, "Failed to update account")
		return
	}
	c.JSON(http.StatusOK, user)
}

// GET /api/users/
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.userService.ListUsers(c.Request.Context(), middleware.ActorFrom(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to fetch users")
		return
	}
	c.JSON(http.StatusOK, users)
}

// GET /api/users/:user_id/
func (h *UserHandler) Get(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	user, err := h.userService.GetUser(c.Request.Context(), middleware.ActorFrom(c), userID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to fetch user")
		return
	}
	c.JSON(http.StatusOK, user)
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return 0, false
	}
	return id, true
}
