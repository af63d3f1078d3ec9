package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"account-service/internal/auth"
	"account-service/internal/domain"
	"account-service/internal/service"
)

const (
	sessionCookie = "session"
	refreshCookie = "refresh"
	cookiePath    = "/api"

	refreshCookieTTL = 30 * 24 * time.Hour
)

// SessionDecoder turns a session token back into the caller's identity.
type SessionDecoder interface {
	Parse(token string) (auth.Identity, error)
	ParseIgnoringExpiry(token string) (auth.Identity, error)
}

// Handler wires HTTP routes to the account services.
type Handler struct {
	users         service.AuthService
	verification  service.VerificationService
	sessions      SessionDecoder
	logger        logrus.FieldLogger
	secureCookies bool
}

func NewHandler(users service.AuthService, verification service.VerificationService, sessions SessionDecoder, logger logrus.FieldLogger, secureCookies bool) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		users:         users,
		verification:  verification,
		sessions:      sessions,
		logger:        logger,
		secureCookies: secureCookies,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		users := api.Group("/users")
		users.POST("/register", h.register)
		users.POST("/login", h.login)
		users.POST("/refresh", h.refresh)
		users.GET("/verify-email", h.verifyEmail)
		users.POST("/verify-email/resend", h.resendVerification)

		authed := users.Group("", h.requireSession())
		authed.POST("/logout", h.logout)
		authed.GET("", h.listUsers)
		authed.GET("/:id", h.getUser)
		authed.PUT("/:id/password", h.updatePassword)
		authed.PUT("/:id/roles", h.updateRoles)
		authed.PUT("/:id/enabled", h.setEnabled)
		authed.DELETE("/:id", h.deleteUser)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

type rolesRequest struct {
	Roles []string `json:"roles" binding:"required"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalidBody(err))
		return
	}

	user, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, userToResponse(*user))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalidBody(err))
		return
	}

	res, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setSessionCookies(c, res)
	c.JSON(http.StatusOK, loginToResponse(res))
}

func (h *Handler) refresh(c *gin.Context) {
	identity, err := h.sessions.ParseIgnoringExpiry(sessionToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	value, _ := c.Cookie(refreshCookie)
	if value == "" {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			value = req.RefreshToken
		}
	}

	res, err := h.users.Renew(c.Request.Context(), identity, value)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setSessionCookies(c, res)
	c.JSON(http.StatusOK, loginToResponse(res))
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.users.Logout(c.Request.Context(), identityFrom(c)); err != nil {
		h.fail(c, err)
		return
	}

	h.clearSessionCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) verifyEmail(c *gin.Context) {
	status, err := h.verification.Validate(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.fail(c, err)
		return
	}

	code, msg := verificationOutcome(status)
	c.JSON(code, verificationResponse{
		Timestamp: time.Now().UnixMilli(),
		Status:    code,
		Result:    string(status),
		Msg:       msg,
		Link:      c.Request.URL.Path,
	})
}

func (h *Handler) resendVerification(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		h.fail(c, fmt.Errorf("%w: token is required", service.ErrValidation))
		return
	}

	if _, err := h.verification.Resend(c.Request.Context(), token); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"msg": "A new verification link has been sent."})
}

func (h *Handler) listUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "0"))

	res, err := h.users.ListUsers(c.Request.Context(), identityFrom(c), page, size)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := userPageResponse{
		Users: make([]UserResponse, len(res.Users)),
		Total: res.Total,
		Page:  res.Page,
		Size:  res.Size,
	}
	for i := range res.Users {
		resp.Users[i] = userToResponse(res.Users[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	user, err := h.users.GetUser(c.Request.Context(), identityFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) updatePassword(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalidBody(err))
		return
	}

	if err := h.users.UpdatePassword(c.Request.Context(), identityFrom(c), id, req.Password); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) updateRoles(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req rolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalidBody(err))
		return
	}

	user, err := h.users.UpdateRoles(c.Request.Context(), identityFrom(c), id, req.Roles)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) setEnabled(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalidBody(err))
		return
	}

	user, err := h.users.SetEnabled(c.Request.Context(), identityFrom(c), id, *req.Enabled)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.users.DeleteUser(c.Request.Context(), identityFrom(c), id); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, fmt.Errorf("%w: invalid user id", service.ErrValidation))
		return 0, false
	}
	return id, true
}

func (h *Handler) setSessionCookies(c *gin.Context, res *service.LoginResult) {
	c.SetSameSite(http.SameSiteLaxMode)
	// The session cookie outlives its token: /refresh needs the expired session
	// alongside the refresh token, and the token's exp claim is enforced on parse.
	maxAge := int(refreshCookieTTL.Seconds())
	c.SetCookie(sessionCookie, res.Session, maxAge, cookiePath, "", h.secureCookies, true)
	c.SetCookie(refreshCookie, res.RefreshToken, maxAge, cookiePath, "", h.secureCookies, true)
}

func (h *Handler) clearSessionCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, "", -1, cookiePath, "", h.secureCookies, true)
	c.SetCookie(refreshCookie, "", -1, cookiePath, "", h.secureCookies, true)
}

func invalidBody(err error) error {
	return fmt.Errorf("%w: %v", service.ErrValidation, err)
}

func verificationOutcome(status domain.VerificationStatus) (int, string) {
	switch status {
	case domain.VerificationValid:
		return http.StatusOK, "Your email has been confirmed."
	case domain.VerificationExpired:
		return http.StatusGone, "This verification link has expired. Request a new one."
	case domain.VerificationAbuse:
		return http.StatusTooManyRequests, "Too many attempts. Please wait a few minutes before trying again."
	case domain.VerificationTimeout:
		return http.StatusTooManyRequests, "Verification is temporarily locked. Please try again later."
	default:
		return http.StatusBadRequest, "This verification link is not valid."
	}
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindEmailInUse:
		return http.StatusConflict
	case service.KindInvalidCredentials:
		return http.StatusUnauthorized
	case service.KindAccountNotVerified, service.KindAccountDisabled, service.KindForbidden:
		return http.StatusForbidden
	case service.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error envelope. Internal errors are logged and never echoed.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Errorf("request failed: %v", err)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Timestamp: time.Now().UnixMilli(),
		Status:    status,
		Kind:      string(kind),
		Msg:       kind.Message(),
		Link:      c.Request.URL.Path,
	})
}

