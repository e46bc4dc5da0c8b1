package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/rowstore"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/sheets"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	subjectContextKey        = "hackboard_subject"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
	headerPosition           = 1

	errorInvalidRequest = "invalid_request"
	errorUnauthorized   = "unauthorized"
	errorTabNotFound    = "tab_not_found"
	errorRowNotFound    = "row_not_found"
	errorInternal       = "internal_error"
)

var (
	errMissingTabStore      = errors.New("tab store dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TabStore is the tabular backend served over HTTP.
type TabStore interface {
	rowstore.Backend
	Tabs(ctx context.Context) ([]string, error)
}

type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Store             TabStore
	TokenManager      TokenValidator
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	Clock             func() time.Time
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingTabStore
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		store:     deps.Store,
		tokens:    deps.TokenManager,
		realtime:  realtime,
		logger:    logger,
		clock:     clock,
		heartbeat: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/tabs")
	protected.Use(handler.authorizeRequest)
	protected.GET("", handler.handleListTabs)
	protected.GET("/:tab", handler.handleReadTab)
	protected.GET("/:tab/events", handler.handleTabEvents)
	protected.GET("/:tab/rows/:position", handler.handleReadRow)
	protected.POST("/:tab/rows", handler.handleAppendRow)
	protected.PUT("/:tab/rows/:position", handler.handleReplaceRow)
	protected.DELETE("/:tab/rows/:position", handler.handleDeleteRow)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	store     TabStore
	tokens    TokenValidator
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	clock     func() time.Time
	heartbeat time.Duration
}

type tabsResponsePayload struct {
	Tabs []string `json:"tabs"`
}

type tabResponsePayload struct {
	Tab    string     `json:"tab"`
	Values [][]string `json:"values"`
}

type rowRequestPayload struct {
	TargetRow int      `json:"target_row"`
	Values    []string `json:"values"`
}

type rowResponsePayload struct {
	Position int      `json:"position"`
	Values   []string `json:"values"`
}

type errorResponsePayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type tabEventPayload struct {
	Tab       string `json:"tab"`
	Action    string `json:"action"`
	Positions []int  `json:"positions"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListTabs(c *gin.Context) {
	tabs, err := h.store.Tabs(c.Request.Context())
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	if tabs == nil {
		tabs = []string{}
	}
	c.JSON(http.StatusOK, tabsResponsePayload{Tabs: tabs})
}

func (h *httpHandler) handleReadTab(c *gin.Context) {
	tab := c.Param("tab")
	values, err := h.store.ReadTab(c.Request.Context(), tab)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, tabResponsePayload{Tab: tab, Values: values})
}

func (h *httpHandler) handleReadRow(c *gin.Context) {
	position, ok := parsePosition(c)
	if !ok {
		return
	}
	cells, err := h.store.ReadRow(c.Request.Context(), c.Param("tab"), position)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rowResponsePayload{Position: position, Values: cells})
}

func (h *httpHandler) handleAppendRow(c *gin.Context) {
	tab := c.Param("tab")
	var request rowRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Values == nil {
		c.JSON(http.StatusBadRequest, errorResponsePayload{Error: errorInvalidRequest})
		return
	}

	result, err := h.store.AppendRow(c.Request.Context(), tab, request.TargetRow, request.Values)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	h.publish(tab, TabActionAppend, result.Position)
	c.JSON(http.StatusCreated, rowResponsePayload{Position: result.Position, Values: result.Values})
}

func (h *httpHandler) handleReplaceRow(c *gin.Context) {
	tab := c.Param("tab")
	position, ok := parsePosition(c)
	if !ok {
		return
	}
	var request rowRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Values == nil {
		c.JSON(http.StatusBadRequest, errorResponsePayload{Error: errorInvalidRequest})
		return
	}

	cells, err := h.store.ReplaceRow(c.Request.Context(), tab, position, request.Values)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	h.publish(tab, TabActionReplace, position)
	c.JSON(http.StatusOK, rowResponsePayload{Position: position, Values: cells})
}

func (h *httpHandler) handleDeleteRow(c *gin.Context) {
	tab := c.Param("tab")
	position, ok := parsePosition(c)
	if !ok {
		return
	}

	values, err := h.store.DeleteRow(c.Request.Context(), tab, position)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	h.publish(tab, TabActionDelete, position)
	c.JSON(http.StatusOK, tabResponsePayload{Tab: tab, Values: values})
}

func (h *httpHandler) handleTabEvents(c *gin.Context) {
	tab := c.Param("tab")
	ctx := c.Request.Context()
	if _, err := h.store.ReadRow(ctx, tab, headerPosition); err != nil {
		h.writeStoreError(c, err)
		return
	}

	stream, cleanup := h.realtime.Subscribe(ctx, tab)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, tabEventPayload{
				Tab:       message.Tab,
				Action:    message.Action,
				Positions: message.Positions,
				Timestamp: message.Timestamp.Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponsePayload{Error: errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponsePayload{Error: errorUnauthorized})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

func (h *httpHandler) publish(tab, action string, positions ...int) {
	h.realtime.Publish(newTabChange(tab, action, positions, h.clock()))
}

func (h *httpHandler) writeStoreError(c *gin.Context, err error) {
	payload := errorResponsePayload{Error: errorInternal}
	var storeErr *sheets.StoreError
	if errors.As(err, &storeErr) {
		payload.Code = storeErr.Code()
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sheets.ErrTabNotFound):
		status, payload.Error = http.StatusNotFound, errorTabNotFound
	case errors.Is(err, sheets.ErrRowNotFound):
		status, payload.Error = http.StatusNotFound, errorRowNotFound
	case errors.Is(err, sheets.ErrInvalidPosition),
		errors.Is(err, sheets.ErrInvalidTabName),
		errors.Is(err, sheets.ErrInvalidHeader):
		status, payload.Error = http.StatusBadRequest, errorInvalidRequest
	default:
		h.logger.Error("tab request failed",
			zap.String("path", c.FullPath()),
			zap.String("tab", c.Param("tab")),
			zap.Error(err))
	}
	c.JSON(status, payload)
}

func parsePosition(c *gin.Context) (int, bool) {
	position, err := strconv.Atoi(c.Param("position"))
	if err != nil || position < 1 {
		c.JSON(http.StatusBadRequest, errorResponsePayload{Error: errorInvalidRequest})
		return 0, false
	}
	return position, true
}

// bearerToken reads the Authorization header, falling back to the access_token query
// parameter for EventSource clients that cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	token := strings.TrimSpace(c.Query(accessTokenQueryKey))
	return token, token != ""
}
