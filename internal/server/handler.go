package server

import (
	"errors"
	"net/http"
	"strconv"

	"chatrelay/internal/service"
	"chatrelay/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	roomSvc *service.RoomService
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidUsername), errors.Is(err, store.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, store.ErrDuplicateUsername):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Str("username", req.Username).Msg("register")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register"})
		}
		return
	}
	log.Info().Str("identity_id", result.IdentityID).Str("display_name", result.DisplayName).Msg("registered")
	c.JSON(http.StatusCreated, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListRooms 返回当前在线的房间及成员数。
func (h *Handler) ListRooms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rooms, err := h.roomSvc.List(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("list rooms")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}
