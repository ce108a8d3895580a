package controller

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"minoj/internal/user/service"
	pkgerrors "minoj/pkg/errors"
	"minoj/pkg/utils/response"
)

// AuthController handles auth-related HTTP endpoints.
type AuthController struct {
	authService *service.AuthService
}

func NewAuthController(authService *service.AuthService) *AuthController {
	return &AuthController{authService: authService}
}

// RegisterRoutes mounts the auth endpoints on the given router group.
func (h *AuthController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/register", h.Register)
	rg.POST("/auth/login", h.Login)
}

// Register handles user registration.
func (h *AuthController) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, pkgerrors.InvalidParams, "invalid request parameters")
		return
	}

	result, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, toAuthResponse(result))
}

// Login handles user login.
func (h *AuthController) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, pkgerrors.InvalidParams, "invalid request parameters")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		IP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, toAuthResponse(result))
}

// RegisterRequest defines registration payload.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest defines login payload.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse defines auth response payload.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserInfo  `json:"user"`
}

// UserInfo defines basic user info payload.
type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func toAuthResponse(result service.AuthResult) AuthResponse {
	return AuthResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User: UserInfo{
			ID:       result.User.ID,
			Username: result.User.Username,
			Role:     string(result.User.Role),
		},
	}
}
