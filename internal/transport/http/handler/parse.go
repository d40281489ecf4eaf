package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
	"github.com/gin-gonic/gin"
)

const maxDocumentBytes = 256 << 20

type parseUsecaser interface {
	Parse(ctx context.Context, r io.Reader, opts qexml.Options) (*domain.ParsedOutput, error)
}

type ParseHandler struct {
	parseUsecase parseUsecaser
	logger       *slog.Logger
}

func NewParseHandler(parseUsecase parseUsecaser, logger *slog.Logger) *ParseHandler {
	return &ParseHandler{parseUsecase: parseUsecase, logger: logger.With("component", "parse_handler")}
}

type parseResponse struct {
	Parameters domain.ParsedParameters `json:"parameters"`
	Structure  domain.ParsedStructure  `json:"structure"`
	Bands      domain.BandsData        `json:"bands"`
}

// Parse decodes the pw.x XML document in the request body.
func (h *ParseHandler) Parse(ctx *gin.Context) {
	if ctx.Request.ContentLength == 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errEmptyDocument})
		return
	}

	var opts qexml.Options
	if v := ctx.Query("include_deprecated_v2_keys"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "include_deprecated_v2_keys must be a boolean"})
			return
		}
		opts.IncludeDeprecatedV2Keys = b
	}

	body := http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxDocumentBytes)
	out, err := h.parseUsecase.Parse(ctx.Request.Context(), body, opts)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrDocument):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidDocument})
		case errors.Is(err, domain.ErrSchemaUnavailable):
			ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": errSchemaUnavailable})
		case errors.Is(err, domain.ErrRequiredFieldMissing),
			errors.Is(err, domain.ErrSchemaInvariantViolation),
			errors.Is(err, domain.ErrUnknownSymmetryType):
			ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "parse document", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, parseResponse{
		Parameters: out.Parameters,
		Structure:  out.Structure,
		Bands:      out.Bands,
	})
}
