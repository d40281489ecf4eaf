package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/metrics"
	"github.com/ErlanBelekov/pwchain/internal/qexml"
)

// ParseUsecase decodes pw.x XML output documents.
type ParseUsecase struct {
	resolver *qexml.Resolver
	logger   *slog.Logger
}

func NewParseUsecase(resolver *qexml.Resolver, logger *slog.Logger) *ParseUsecase {
	return &ParseUsecase{resolver: resolver, logger: logger.With("component", "parse")}
}

func (u *ParseUsecase) Parse(ctx context.Context, r io.Reader, opts qexml.Options) (*domain.ParsedOutput, error) {
	start := time.Now()
	out, err := u.parse(r, opts)
	result := "ok"
	if err != nil {
		result = "error"
		u.logger.InfoContext(ctx, "decode failed", "error", err)
	}
	metrics.DecodeDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return out, err
}

func (u *ParseUsecase) parse(r io.Reader, opts qexml.Options) (*domain.ParsedOutput, error) {
	doc, err := qexml.ReadDocument(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	schema, err := u.resolver.Resolve(doc)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	out, err := qexml.Decode(doc, schema, opts, u.logger)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}
