package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"incidentdesk/internal/auth"
	"incidentdesk/internal/models"
	"incidentdesk/internal/service/conversation"
	"incidentdesk/internal/timeline"
)

// Pinger is a dependency /healthz checks besides the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the HTTP layer.
type Options struct {
	// Location is used for day grouping; nil means server local time.
	Location      *time.Location
	SendPerSecond float64
	SendBurst     int
	// Cache is pinged by /healthz when set.
	Cache  Pinger
	Logger zerolog.Logger
}

// Handler wires HTTP routes to the conversation service.
type Handler struct {
	conv    *conversation.Service
	auth    *auth.Service
	db      *sql.DB
	cache   Pinger
	limiter *sendLimiter
	loc     *time.Location
	log     zerolog.Logger
	now     func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(conv *conversation.Service, authService *auth.Service, db *sql.DB, opts Options) *Handler {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		conv:    conv,
		auth:    authService,
		db:      db,
		cache:   opts.Cache,
		limiter: newSendLimiter(opts.SendPerSecond, opts.SendBurst),
		loc:     loc,
		log:     opts.Logger,
		now:     time.Now,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)

	api := router.Group("/api")
	authMW := h.auth.Middleware()
	api.POST("/auth/logout", authMW, h.logout)

	admins := api.Group("/admins", authMW)
	adminOrTech := auth.RequireRole(models.RoleAdmin, models.RoleTechnician)
	adminOnly := auth.RequireRole(models.RoleAdmin)
	admins.POST("/send-message", adminOrTech, h.limiter.middleware(), h.sendMessage(models.RoleTechnician))
	admins.POST("/send-message/operator", adminOnly, h.limiter.middleware(), h.sendMessage(models.RoleOperator))
	admins.GET("/discussions", adminOrTech, h.listDiscussions(models.RoleTechnician))
	admins.GET("/discussions-operator", adminOnly, h.listDiscussions(models.RoleOperator))
	admins.GET("/discussions/:id", adminOrTech, h.getDiscussion(models.RoleTechnician))
	admins.GET("/discussions/:id/operator", adminOnly, h.getDiscussion(models.RoleOperator))
	admins.GET("/discussions/:id/messages", adminOrTech, h.listMessages(models.RoleTechnician, false))
	admins.GET("/discussions/:id/messages/operator", adminOnly, h.listMessages(models.RoleOperator, false))

	operators := api.Group("/operators/op", authMW, auth.RequireRole(models.RoleOperator))
	operators.GET("/discussions", h.listDiscussions(models.RoleOperator))
	operators.GET("/discussions/:id", h.getDiscussion(models.RoleOperator))
	operators.GET("/discussions/:id/messages", h.listMessages(models.RoleOperator, true))
	operators.POST("/send-message", h.limiter.middleware(), h.sendMessage(models.RoleOperator))
}

func (h *Handler) caller(c *gin.Context) (models.Ref, bool) {
	caller, ok := auth.CallerFromContext(c)
	if !ok || !caller.Valid() {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authorization required"})
		return models.Ref{}, false
	}
	return caller, true
}

func discussionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid discussion id"})
		return 0, false
	}
	return id, true
}

func respond(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// writeError maps service errors onto HTTP statuses. Unexpected errors are logged
// and hidden from the client.
func (h *Handler) writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, conversation.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, conversation.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, conversation.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, context.Canceled):
		status = 499
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "discussion not found"})
}

type sendMessageRequest struct {
	Content     string `json:"content" binding:"required"`
	RecipientID int64  `json:"recipient_id" binding:"required,gt=0"`
}

func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch field {
		case "Content":
			field = "content"
		case "RecipientID":
			field = "recipient_id"
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(parts, ", ")
}

// sendMessage handles both directions of a family: admins write to family,
// counterparts write to an admin.
func (h *Handler) sendMessage(family models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := h.caller(c)
		if !ok {
			return
		}
		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": bindingMessage(err)})
			return
		}
		recipientRole := models.RoleAdmin
		if caller.Role == models.RoleAdmin {
			recipientRole = family
		}
		res, err := h.conv.SendMessage(c.Request.Context(), conversation.SendRequest{
			Sender:        caller,
			RecipientID:   req.RecipientID,
			RecipientRole: recipientRole,
			Content:       req.Content,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "Message sent successfully",
			"data": gin.H{
				"message":       res.Message,
				"discussion_id": res.Discussion.ID,
			},
		})
	}
}

func (h *Handler) listDiscussions(family models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := h.caller(c)
		if !ok {
			return
		}
		list, err := h.conv.ListDiscussions(c.Request.Context(), caller, family, c.Query("search"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		respond(c, list)
	}
}

func (h *Handler) getDiscussion(family models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := h.caller(c)
		if !ok {
			return
		}
		id, ok := discussionIDParam(c)
		if !ok {
			return
		}
		detail, err := h.conv.GetDiscussion(c.Request.Context(), caller, id)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if detail.Discussion.Counterpart.Role != family {
			notFound(c)
			return
		}
		respond(c, detail)
	}
}

type groupedThread struct {
	Discussion models.Discussion   `json:"discussion"`
	Admin      *models.Participant `json:"admin"`
	Member     *models.Participant `json:"member"`
	Days       []timeline.Day      `json:"days"`
}

func (h *Handler) listMessages(family models.Role, markRead bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := h.caller(c)
		if !ok {
			return
		}
		id, ok := discussionIDParam(c)
		if !ok {
			return
		}
		thread, err := h.conv.ListMessages(c.Request.Context(), caller, id, markRead)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if thread.Discussion.Counterpart.Role != family {
			notFound(c)
			return
		}
		if c.Query("group") == "day" {
			respond(c, groupedThread{
				Discussion: thread.Discussion,
				Admin:      thread.Admin,
				Member:     thread.Member,
				Days:       timeline.GroupByDay(thread.Messages, h.now(), h.loc),
			})
			return
		}
		respond(c, thread)
	}
}

func (h *Handler) logout(c *gin.Context) {
	claims, found := auth.ClaimsFromContext(c)
	if !found {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authorization required"})
		return
	}
	if err := h.auth.RevokeToken(c.Request.Context(), claims); err != nil {
		h.log.Error().Err(err).Msg("logout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not revoke token"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "database unavailable"})
		return
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("cache ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "cache unavailable"})
			return
		}
	}
	respond(c, gin.H{"status": "ok"})
}
