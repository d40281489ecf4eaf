package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/repository"
)

type WorkchainUsecase struct {
	repo          repository.WorkchainRepository
	attempts      repository.AttemptRepository
	maxIterations int
}

func NewWorkchainUsecase(repo repository.WorkchainRepository, attempts repository.AttemptRepository, maxIterations int) *WorkchainUsecase {
	if maxIterations <= 0 {
		maxIterations = domain.DefaultMaxIterations
	}
	return &WorkchainUsecase{repo: repo, attempts: attempts, maxIterations: maxIterations}
}

type CreateWorkchainInput struct {
	UserID      string
	Label       string
	NotifyEmail *string
	Inputs      domain.WorkchainInputs
}

func (u *WorkchainUsecase) CreateWorkchain(ctx context.Context, input CreateWorkchainInput) (*domain.Workchain, error) {
	in := input.Inputs
	if err := ValidateInputs(in); err != nil {
		return nil, err
	}
	if in.MaxIterations <= 0 {
		in.MaxIterations = u.maxIterations
	}
	if in.Parameters == nil {
		in.Parameters = domain.Parameters{}
	}

	wc := &domain.Workchain{
		UserID:      input.UserID,
		Label:       input.Label,
		NotifyEmail: input.NotifyEmail,
		Inputs:      in,
		Status:      domain.StatusPending,
	}

	created, err := u.repo.Create(ctx, wc)
	if err != nil {
		return nil, fmt.Errorf("create workchain: %w", err)
	}
	return created, nil
}

// ValidateInputs checks what can be checked before the workchain runs.
// Pseudopotential coverage is left to the workchain itself, which aborts
// with a dedicated reason.
func ValidateInputs(in domain.WorkchainInputs) error {
	var problems []string
	if in.Code.Label == "" && in.Code.Command == "" {
		problems = append(problems, "code is required")
	}
	if len(in.Structure.Sites) == 0 {
		problems = append(problems, "structure has no sites")
	}
	if len(in.Pseudos) == 0 && in.PseudoFamily == "" {
		problems = append(problems, "either pseudos or pseudo_family is required")
	}
	if in.Options == nil && in.AutoParallelization == nil {
		problems = append(problems, "either options or automatic_parallelization is required")
	}
	if in.KPoints.IsMesh() && (in.KPoints.Mesh[0] < 1 || in.KPoints.Mesh[1] < 1 || in.KPoints.Mesh[2] < 1) {
		problems = append(problems, "kpoints mesh must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInputs, strings.Join(problems, "; "))
	}
	return nil
}

func (u *WorkchainUsecase) GetByID(ctx context.Context, id, userID string) (*domain.Workchain, error) {
	wc, err := u.repo.GetByID(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("get workchain: %w", err)
	}
	return wc, nil
}

func (u *WorkchainUsecase) ListAttempts(ctx context.Context, id, userID string) ([]*domain.AttemptRecord, error) {
	if _, err := u.repo.GetByID(ctx, id, userID); err != nil {
		return nil, fmt.Errorf("get workchain: %w", err)
	}
	attempts, err := u.attempts.ListByWorkchainID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

type ListWorkchainsInput struct {
	UserID string
	Status string
	Cursor string
	Limit  int
}

type ListWorkchainsResult struct {
	Workchains []*domain.Workchain
	NextCursor *string
}

type workchainCursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func decodeCursor(s string) (*time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}
	var c workchainCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, "", fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c.CreatedAt, c.ID, nil
}

func encodeCursor(createdAt time.Time, id string) string {
	b, _ := json.Marshal(workchainCursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

func (u *WorkchainUsecase) ListWorkchains(ctx context.Context, input ListWorkchainsInput) (ListWorkchainsResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	status := domain.Status(input.Status)
	if status != "" && !status.Valid() {
		return ListWorkchainsResult{}, domain.ErrInvalidStatus
	}

	repoInput := repository.ListWorkchainsInput{
		UserID: input.UserID,
		Status: status,
		Limit:  limit + 1,
	}

	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(input.Cursor)
		if err != nil {
			return ListWorkchainsResult{}, domain.ErrInvalidCursor
		}
		repoInput.CursorTime = cursorTime
		repoInput.CursorID = cursorID
	}

	workchains, err := u.repo.List(ctx, repoInput)
	if err != nil {
		return ListWorkchainsResult{}, fmt.Errorf("list workchains: %w", err)
	}

	var nextCursor *string
	if len(workchains) == limit+1 {
		last := workchains[limit-1]
		s := encodeCursor(last.CreatedAt, last.ID)
		nextCursor = &s
		workchains = workchains[:limit]
	}

	return ListWorkchainsResult{Workchains: workchains, NextCursor: nextCursor}, nil
}
