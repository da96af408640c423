package handler

import (
	"errors"
	"net/http"
	"strings"

	"stock-sage/internal/account"
	"stock-sage/internal/domain"

	"github.com/gin-gonic/gin"
)

const userContextKey = "auth.user"

// Register godoc
// @Summary      Create an account
// @Description  Registers a new user and returns the stored profile
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body  object  true  "JSON body with email, username and password"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.register")
	defer span.End()

	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	user, err := h.accounts.Register(ctx, req.Email, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "user": user})
}

// Login godoc
// @Summary      Log in
// @Description  Verifies credentials and returns a session token for the Authorization header
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body  object  true  "JSON body with email and password"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.login")
	defer span.End()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	token, user, err := h.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "user": user})
}

// Logout godoc
// @Summary      Log out
// @Description  Discards the presented session token
// @Tags         auth
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /api/auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.logout")
	defer span.End()

	if err := h.accounts.Logout(ctx, bearerToken(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me godoc
// @Summary      Get the authenticated user
// @Description  Returns the profile and watchlist for the presented session token
// @Tags         auth
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.me")
	defer span.End()

	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// UpdateWatchlist godoc
// @Summary      Add or remove a watchlist symbol
// @Description  Applies an add or remove action to the authenticated user's watchlist
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body  object  true  "JSON body with action (add|remove) and symbol"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/auth/watchlist [put]
func (h *Handler) UpdateWatchlist(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.update-watchlist")
	defer span.End()

	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req struct {
		Action string `json:"action"`
		Symbol string `json:"symbol"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	var (
		watchlist []string
		err       error
	)
	switch strings.ToLower(req.Action) {
	case "add":
		watchlist, err = h.accounts.AddToWatchlist(ctx, user, req.Symbol)
	case "remove":
		watchlist, err = h.accounts.RemoveFromWatchlist(ctx, user, req.Symbol)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be add or remove"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "watchlist": watchlist})
}

func currentUser(c *gin.Context) *domain.User {
	value, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := value.(*domain.User)
	return user
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
