package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	"github.com/MarcoPoloResearchLab/spotter/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/spotter/internal/logging"
	"github.com/MarcoPoloResearchLab/spotter/internal/pins"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	principalContextKey   = "spotter_principal"
	defaultMaxUploadBytes = 10 << 20
	defaultUploadsPrefix  = "/uploads"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingPrincipals     = errors.New("principal resolver dependency required")
	errMissingIngestor       = errors.New("pin ingestor dependency required")
	errMissingPinReader      = errors.New("pin reader dependency required")
	errMissingLeaderboard    = errors.New("leaderboard dependency required")
	errMissingDirectory      = errors.New("username directory dependency required")
)

// TokenValidator validates bearer session tokens.
type TokenValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// PrincipalResolver maps validated claims to a directory-backed principal.
type PrincipalResolver interface {
	EnsureUser(ctx context.Context, claims auth.SessionClaims) (auth.Principal, error)
}

// PinCreator runs the pin creation pipeline.
type PinCreator interface {
	Create(ctx context.Context, request pins.CreateRequest) (pins.Pin, error)
}

// PinReader serves pin read paths.
type PinReader interface {
	Get(ctx context.Context, pinID int64) (pins.Pin, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]pins.Pin, error)
	ListWeekly(ctx context.Context) ([]pins.Pin, error)
}

// LeaderboardQuerier ranks owners.
type LeaderboardQuerier interface {
	Query(ctx context.Context, request leaderboard.Request) (leaderboard.Page, error)
}

// UsernameDirectory resolves display names for pin owners.
type UsernameDirectory interface {
	Usernames(ctx context.Context, ownerIDs []int64) (map[int64]string, error)
}

// Dependencies wires the HTTP surface to the services behind it. LiveFeed,
// Metrics, and Uploads are optional.
type Dependencies struct {
	TokenValidator TokenValidator
	Principals     PrincipalResolver
	Ingestor       PinCreator
	Pins           PinReader
	Leaderboard    LeaderboardQuerier
	Directory      UsernameDirectory
	LiveFeed       http.Handler
	Metrics        http.Handler
	Uploads        http.FileSystem
	UploadsPrefix  string
	AllowedOrigins []string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving the public API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Principals == nil {
		return nil, errMissingPrincipals
	}
	if deps.Ingestor == nil {
		return nil, errMissingIngestor
	}
	if deps.Pins == nil {
		return nil, errMissingPinReader
	}
	if deps.Leaderboard == nil {
		return nil, errMissingLeaderboard
	}
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUploadBytes := deps.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}

	router := gin.New()
	router.MaxMultipartMemory = maxUploadBytes
	router.Use(gin.Recovery())
	router.Use(logging.AccessLog(logger))
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		tokens:         deps.TokenValidator,
		principals:     deps.Principals,
		ingestor:       deps.Ingestor,
		pins:           deps.Pins,
		leaderboard:    deps.Leaderboard,
		directory:      deps.Directory,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	if deps.LiveFeed != nil {
		router.GET("/ws/pins", gin.WrapH(deps.LiveFeed))
	}
	if deps.Uploads != nil {
		prefix := deps.UploadsPrefix
		if prefix == "" {
			prefix = defaultUploadsPrefix
		}
		router.StaticFS(prefix, deps.Uploads)
	}

	api := router.Group("/api")
	api.GET("/pins/weekly", handler.handleListWeekly)
	api.GET("/pins/:pinID", handler.handleGetPin)
	api.GET("/users/:userID/pins", handler.handleListByOwner)
	api.GET("/leaderboard", handler.handleLeaderboard)

	protected := api.Group("")
	protected.Use(handler.authorizeRequest)
	protected.POST("/pins", handler.handleCreatePin)
	protected.GET("/pins/my", handler.handleListMine)

	return router, nil
}

func corsConfig(allowedOrigins []string) cors.Config {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			config.AllowAllOrigins = true
			return config
		}
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = allowedOrigins
	return config
}

type httpHandler struct {
	tokens         TokenValidator
	principals     PrincipalResolver
	ingestor       PinCreator
	pins           PinReader
	leaderboard    LeaderboardQuerier
	directory      UsernameDirectory
	maxUploadBytes int64
	logger         *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		abortUnauthorized(c, "authorization header missing or invalid")
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
			abortUnauthorized(c, "session token expired")
			return
		}
		h.logger.Warn("token validation failed", zap.Error(err))
		abortUnauthorized(c, "session token invalid")
		return
	}
	principal, err := h.principals.EnsureUser(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("principal resolution failed", zap.Int64("user_id", claims.UserID), zap.Error(err))
		if errors.Is(err, apperrors.ErrConflict) {
			h.writeError(c, err)
			c.Abort()
			return
		}
		abortUnauthorized(c, "session principal could not be resolved")
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func principalFromContext(c *gin.Context) (*auth.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(auth.Principal)
	if !ok || principal.OwnerID <= 0 {
		return nil, false
	}
	return &principal, true
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: strings.TrimSpace(message)})
}
