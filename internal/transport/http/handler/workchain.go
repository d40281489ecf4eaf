package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"gopkg.in/yaml.v3"
)

type workchainUsecaser interface {
	CreateWorkchain(ctx context.Context, input usecase.CreateWorkchainInput) (*domain.Workchain, error)
	GetByID(ctx context.Context, id, userID string) (*domain.Workchain, error)
	ListAttempts(ctx context.Context, id, userID string) ([]*domain.AttemptRecord, error)
	ListWorkchains(ctx context.Context, input usecase.ListWorkchainsInput) (usecase.ListWorkchainsResult, error)
}

type WorkchainHandler struct {
	workchainUsecase workchainUsecaser
	logger           *slog.Logger
}

func NewWorkchainHandler(workchainUsecase workchainUsecaser, logger *slog.Logger) *WorkchainHandler {
	return &WorkchainHandler{workchainUsecase: workchainUsecase, logger: logger.With("component", "workchain_handler")}
}

type createWorkchainRequest struct {
	Label       string                 `json:"label"        yaml:"label"        binding:"max=256"`
	NotifyEmail *string                `json:"notify_email" yaml:"notify_email" binding:"omitempty,email"`
	Inputs      domain.WorkchainInputs `json:"inputs"       yaml:"inputs"`
}

type createWorkchainResponse struct {
	ID        string        `json:"id"`
	Status    domain.Status `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

type getWorkchainResponse struct {
	ID              string                   `json:"id"`
	Label           string                   `json:"label"`
	Status          domain.Status            `json:"status"`
	Iterations      int                      `json:"iterations"`
	MaxIterations   int                      `json:"max_iterations"`
	Outputs         *domain.WorkchainOutputs `json:"outputs,omitempty"`
	AbortReason     *string                  `json:"abort_reason,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
	WorkdirPurgedAt *time.Time               `json:"workdir_purged_at,omitempty"`
}

type listWorkchainItem struct {
	ID          string        `json:"id"`
	Label       string        `json:"label"`
	Status      domain.Status `json:"status"`
	Iterations  int           `json:"iterations"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	AbortReason *string       `json:"abort_reason,omitempty"`
}

type listWorkchainsResponse struct {
	Workchains []listWorkchainItem `json:"workchains"`
	NextCursor *string             `json:"next_cursor"`
}

type attemptResponse struct {
	ID             string            `json:"id"`
	WorkchainID    string            `json:"workchain_id"`
	AttemptNum     int               `json:"attempt_num"`
	WorkerID       string            `json:"worker_id"`
	RestartMode    string            `json:"restart_mode"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at"`
	State          *domain.CalcState `json:"state"`
	Converged      bool              `json:"converged"`
	Warnings       []string          `json:"warnings"`
	ParserWarnings []string          `json:"parser_warnings"`
	RemotePath     *string           `json:"remote_path"`
	DurationMS     *int64            `json:"duration_ms"`
}

// Create accepts the workchain inputs as JSON or, for hand-written input
// files, as YAML.
func (h *WorkchainHandler) Create(ctx *gin.Context) {
	req, status, err := bindCreateRequest(ctx)
	if err != nil {
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	wc, err := h.workchainUsecase.CreateWorkchain(ctx.Request.Context(), usecase.CreateWorkchainInput{
		UserID:      ctx.GetString("userID"),
		Label:       req.Label,
		NotifyEmail: req.NotifyEmail,
		Inputs:      req.Inputs,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInputs) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "create workchain", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusCreated, createWorkchainResponse{
		ID:        wc.ID,
		Status:    wc.Status,
		CreatedAt: wc.CreatedAt,
	})
}

func bindCreateRequest(ctx *gin.Context) (*createWorkchainRequest, int, error) {
	var req createWorkchainRequest

	mediaType := "application/json"
	if ct := ctx.GetHeader("Content-Type"); ct != "" {
		parsed, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, http.StatusUnsupportedMediaType, errors.New(errUnsupportedMedia)
		}
		mediaType = parsed
	}

	switch mediaType {
	case "application/json":
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, http.StatusBadRequest, err
		}
	case "application/yaml", "application/x-yaml", "text/yaml":
		dec := yaml.NewDecoder(ctx.Request.Body)
		dec.KnownFields(true)
		if err := dec.Decode(&req); err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("decode yaml: %w", err)
		}
		if err := binding.Validator.ValidateStruct(&req); err != nil {
			return nil, http.StatusBadRequest, err
		}
	default:
		return nil, http.StatusUnsupportedMediaType, errors.New(errUnsupportedMedia)
	}
	return &req, 0, nil
}

func (h *WorkchainHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	wc, err := h.workchainUsecase.GetByID(ctx.Request.Context(), id, ctx.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrWorkchainNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errWorkchainNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "get workchain by id", "workchain_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, getWorkchainResponse{
		ID:              wc.ID,
		Label:           wc.Label,
		Status:          wc.Status,
		Iterations:      wc.Iterations,
		MaxIterations:   wc.Inputs.MaxIterations,
		Outputs:         wc.Outputs,
		AbortReason:     wc.AbortReason,
		CreatedAt:       wc.CreatedAt,
		UpdatedAt:       wc.UpdatedAt,
		CompletedAt:     wc.CompletedAt,
		WorkdirPurgedAt: wc.WorkdirPurgedAt,
	})
}

func (h *WorkchainHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	result, err := h.workchainUsecase.ListWorkchains(ctx.Request.Context(), usecase.ListWorkchainsInput{
		UserID: ctx.GetString("userID"),
		Status: ctx.Query("status"),
		Cursor: ctx.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidStatus):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidStatus})
		case errors.Is(err, domain.ErrInvalidCursor):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCursor})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "list workchains", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	items := make([]listWorkchainItem, len(result.Workchains))
	for i, wc := range result.Workchains {
		items[i] = listWorkchainItem{
			ID:          wc.ID,
			Label:       wc.Label,
			Status:      wc.Status,
			Iterations:  wc.Iterations,
			CreatedAt:   wc.CreatedAt,
			CompletedAt: wc.CompletedAt,
			AbortReason: wc.AbortReason,
		}
	}

	ctx.JSON(http.StatusOK, listWorkchainsResponse{
		Workchains: items,
		NextCursor: result.NextCursor,
	})
}

func (h *WorkchainHandler) ListAttempts(ctx *gin.Context) {
	id := ctx.Param("id")

	attempts, err := h.workchainUsecase.ListAttempts(ctx.Request.Context(), id, ctx.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrWorkchainNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errWorkchainNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "list attempts", "workchain_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	resp := make([]attemptResponse, len(attempts))
	for i, a := range attempts {
		resp[i] = attemptResponse{
			ID:             a.ID,
			WorkchainID:    a.WorkchainID,
			AttemptNum:     a.AttemptNum,
			WorkerID:       a.WorkerID,
			RestartMode:    a.RestartMode,
			StartedAt:      a.StartedAt,
			CompletedAt:    a.CompletedAt,
			State:          a.State,
			Converged:      a.Converged,
			Warnings:       a.Warnings,
			ParserWarnings: a.ParserWarnings,
			RemotePath:     a.RemotePath,
			DurationMS:     a.DurationMS,
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"attempts": resp})
}
