// seed inserts a test user and a few silicon workchains into the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/domain"
	"github.com/ErlanBelekov/pwchain/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/pwchain/internal/usecase"
)

const seedUser = "seed-user"

type seedWorkchain struct {
	label         string
	kmesh         int
	ecutwfc       float64
	maxIterations int
	family        string
}

var workchains = []seedWorkchain{
	// Should converge on the first attempt
	{"si-scf-k4", 4, 30, 5, "sssp"},
	{"si-scf-k6", 6, 30, 5, "sssp"},

	// Single attempt, expected to abort
	{"si-scf-single", 4, 40, 1, "sssp"},

	// Unknown family: aborts before anything is launched
	{"si-missing-family", 4, 30, 5, "no-such-family"},
}

func siliconInputs(s seedWorkchain) domain.WorkchainInputs {
	return domain.WorkchainInputs{
		Code: domain.Code{Label: "pw"},
		Structure: domain.Structure{
			Cell:  [3][3]float64{{-2.715, 0, 2.715}, {0, 2.715, 2.715}, {-2.715, 2.715, 0}},
			Kinds: []domain.Kind{{Name: "Si", Symbol: "Si", Mass: 28.0855}},
			Sites: []domain.Site{
				{KindName: "Si", Position: [3]float64{0, 0, 0}},
				{KindName: "Si", Position: [3]float64{1.3575, 1.3575, 1.3575}},
			},
		},
		PseudoFamily: s.family,
		KPoints:      domain.KPoints{Mesh: [3]int{s.kmesh, s.kmesh, s.kmesh}},
		Parameters: domain.Parameters{
			domain.NamelistControl: {"calculation": "scf"},
			domain.NamelistSystem:  {"ecutwfc": s.ecutwfc, "ecutrho": 4 * s.ecutwfc},
		},
		Options: &domain.Options{
			Resources:           domain.Resources{NumMachines: 1, NumMPIProcsPerMachine: 1},
			MaxWallclockSeconds: 1800,
		},
		MaxIterations: s.maxIterations,
		CleanWorkdir:  false,
	}
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set, run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL, "pwchain-seed", 2)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		log.Fatalf("migrate: %v", err)
	}

	if err := postgres.NewUserRepository(pool).Upsert(ctx, seedUser); err != nil {
		pool.Close()
		log.Fatalf("upsert user: %v", err)
	}

	uc := usecase.NewWorkchainUsecase(postgres.NewWorkchainRepository(pool), postgres.NewAttemptRepository(pool), domain.DefaultMaxIterations)

	var ids []string
	for _, s := range workchains {
		wc, err := uc.CreateWorkchain(ctx, usecase.CreateWorkchainInput{
			UserID: seedUser,
			Label:  s.label,
			Inputs: siliconInputs(s),
		})
		if err != nil {
			pool.Close()
			log.Fatalf("create workchain %s: %v", s.label, err)
		}
		ids = append(ids, wc.ID)
	}

	pool.Close()

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  User ID:            %s\n", seedUser)
	fmt.Printf("  Workchains created: %d\n", len(ids))
	for i, id := range ids {
		fmt.Printf("    %-20s %s\n", workchains[i].label, id)
	}
	fmt.Println()

	token := "eyJ..."
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		t, err := usecase.NewTokenIssuer([]byte(secret)).Issue(seedUser, 24*time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		token = t
	}

	fmt.Println("How to test:")
	fmt.Println()
	fmt.Printf("    export JWT=%s\n", token)
	fmt.Println("    curl -s http://localhost:8080/workchains -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  Once the scheduler picked them up, check the attempt journal:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/workchains/WORKCHAIN_ID/attempts -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  What to expect (with PSEUDO_FAMILIES_FILE defining sssp):")
	fmt.Println("    si-scf-*            ->  finished")
	fmt.Println("    si-missing-family   ->  aborted, no pseudopotential available for kind")
}
