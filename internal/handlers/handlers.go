package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/mediscan/internal/auth"
	"github.com/example/mediscan/internal/classifier"
	"github.com/example/mediscan/internal/inference"
	"github.com/example/mediscan/internal/repository"
	"github.com/example/mediscan/internal/usecase"
	"github.com/example/mediscan/internal/vision"
)

// MaxUploadSize is the largest accepted image upload in bytes.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for multipart boundaries and headers on top
// of the image itself.
const multipartOverhead = 1 << 20

// PredictionService is the prediction use case as seen by the HTTP layer.
type PredictionService interface {
	Predict(ctx context.Context, req usecase.PredictRequest) (*usecase.PredictionResult, error)
	GetPrediction(ctx context.Context, id uint) (*repository.Prediction, error)
	History(ctx context.Context, userID *uint) ([]*repository.Prediction, error)
	GetDuplicateReport(ctx context.Context, id uint) (*usecase.DuplicateReport, error)
	GetStatsSummary(ctx context.Context) (*usecase.StatsSummary, error)
}

// UserService is the user use case as seen by the HTTP layer.
type UserService interface {
	Register(ctx context.Context, req usecase.RegisterRequest) (*repository.User, bool, error)
	Login(ctx context.Context, email, password string) (*usecase.LoginResult, error)
	GetUser(ctx context.Context, id uint) (*repository.User, error)
}

// ModelInfo describes the loaded classifier for /health.
type ModelInfo struct {
	Backend    string
	InputShape []int
	Labels     int
}

// Dependencies groups everything the routes need. Auth authenticates
// optionally; nil disables token handling. RequireAuth guards routes that
// need a signed-in user; without it those routes are not registered.
// Metrics may be nil.
type Dependencies struct {
	Predictions PredictionService
	Users       UserService
	Model       ModelInfo
	Auth        gin.HandlerFunc
	RequireAuth gin.HandlerFunc
	Metrics     http.Handler
	Logger      *zap.Logger
}

// NewRouter builds a Gin engine with recovery, CORS and the service routes.
func NewRouter(deps Dependencies, corsOrigins []string, middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize

	corsConfig := cors.DefaultConfig()
	if len(corsOrigins) == 0 || (len(corsOrigins) == 1 && corsOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = corsOrigins
	}
	corsConfig.AddAllowHeaders("Authorization")

	router.Use(gin.Recovery(), cors.New(corsConfig))
	router.Use(middleware...)
	RegisterRoutes(router, deps)
	return router
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	h := &handler{
		predictions: deps.Predictions,
		users:       deps.Users,
		model:       deps.Model,
		logger:      deps.Logger,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	optionalAuth := deps.Auth
	if optionalAuth == nil {
		optionalAuth = func(c *gin.Context) { c.Next() }
	}

	router.GET("/health", h.health)
	router.POST("/users/register", h.register)
	router.POST("/users/login", h.login)
	if deps.RequireAuth != nil {
		router.GET("/users/me", deps.RequireAuth, h.me)
	}
	router.POST("/predict", optionalAuth, h.predict)
	router.GET("/predictions/history", optionalAuth, h.history)
	router.GET("/predictions/stats", h.stats)
	router.GET("/predictions/:id", h.getPrediction)
	router.GET("/predictions/:id/duplicates", h.duplicates)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
}

type handler struct {
	predictions PredictionService
	users       UserService
	model       ModelInfo
	logger      *zap.Logger
}

func (h *handler) health(c *gin.Context) {
	shape := h.model.InputShape
	if len(shape) == 4 {
		shape = shape[1:]
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"input_shape": shape,
		"labels":      h.model.Labels,
		"backend":     h.model.Backend,
	})
}

type registerRequest struct {
	Email    string `json:"email" form:"email"`
	Name     string `json:"name" form:"name"`
	Password string `json:"password" form:"password"`
}

func (h *handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, created, err := h.users.Register(c.Request.Context(), usecase.RegisterRequest{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "valid email is required"})
			return
		}
		h.logger.Error("register failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register user"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, userView(user))
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log in"})
		return
	}

	body := userView(result.User)
	body["access_token"] = result.Token
	body["token_type"] = "Bearer"
	body["expires_at"] = result.ExpiresAt.UTC().Format(time.RFC3339)
	c.JSON(http.StatusOK, body)
}

func (h *handler) me(c *gin.Context) {
	userID, err := h.requestUserID(c)
	if err != nil || userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token subject is not a user"})
		return
	}

	user, err := h.users.GetUser(c.Request.Context(), *userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("user lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	c.JSON(http.StatusOK, userView(user))
}

func (h *handler) predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}

	userID, err := h.requestUserID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	if mtype := mimetype.Detect(data); !strings.HasPrefix(mtype.String(), "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported media type: " + mtype.String()})
		return
	}

	result, err := h.predictions.Predict(c.Request.Context(), usecase.PredictRequest{
		UserID:    userID,
		ImageName: file.Filename,
		Source:    inference.Bytes(data),
	})
	if err != nil {
		status, message := predictErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("prediction failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": message})
		return
	}

	topK := result.Decision.TopK
	if topK == nil {
		topK = []classifier.TopKEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"label":         result.Decision.Outcome,
		"probability":   result.Decision.Confidence,
		"topk":          topK,
		"prediction_id": result.PredictionID,
		"request_id":    result.RequestID,
	})
}

func predictErrorStatus(err error) (int, string) {
	var decodeErr *vision.DecodeError
	var inferenceErr *classifier.InferenceError
	switch {
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest, "could not decode image"
	case errors.As(err, &inferenceErr):
		return http.StatusInternalServerError, "inference failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "prediction failed"
	}
}

func (h *handler) history(c *gin.Context) {
	userID, err := h.requestUserID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, err := h.predictions.History(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("history failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	items := make([]gin.H, 0, len(rows))
	for _, p := range rows {
		items = append(items, predictionView(p))
	}
	c.JSON(http.StatusOK, items)
}

func (h *handler) getPrediction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	record, err := h.predictions.GetPrediction(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, predictionView(record))
}

func (h *handler) duplicates(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	report, err := h.predictions.GetDuplicateReport(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}

	duplicates := make([]gin.H, 0, len(report.Duplicates))
	for _, p := range report.Duplicates {
		duplicates = append(duplicates, predictionView(p))
	}
	c.JSON(http.StatusOK, gin.H{
		"prediction":      predictionView(report.Prediction),
		"duplicate_count": len(duplicates),
		"duplicates":      duplicates,
	})
}

func (h *handler) stats(c *gin.Context) {
	summary, err := h.predictions.GetStatsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate stats"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "prediction not found"})
		return
	}
	h.logger.Error("prediction lookup failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load prediction"})
}

// requestUserID prefers the authenticated subject over the user_id parameter.
func (h *handler) requestUserID(c *gin.Context) (*uint, error) {
	raw, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		raw = c.Query("user_id")
		if raw == "" {
			raw = c.PostForm("user_id")
		}
	}
	if raw == "" {
		return nil, nil
	}

	id, err := strconv.ParseUint(raw, 10, 0)
	if err != nil {
		return nil, errors.New("user_id must be a positive integer")
	}
	userID := uint(id)
	return &userID, nil
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

func userView(u *repository.User) gin.H {
	return gin.H{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
	}
}

func predictionView(p *repository.Prediction) gin.H {
	return gin.H{
		"id":         p.ID,
		"request_id": p.RequestID,
		"user_id":    p.UserID,
		"image_name": p.ImageName,
		"sha1":       p.SHA1Hash,
		"label":      p.Label,
		"confidence": p.Confidence,
		"skin_ratio": p.SkinRatio,
		"gate":       p.Gate,
		"topk":       usecase.DecodeTopK(p),
		"created_at": p.CreatedAt.UTC().Format(time.RFC3339),
	}
}
