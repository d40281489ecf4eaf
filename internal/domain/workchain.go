package domain

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusAborted  Status = "aborted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusFinished, StatusAborted:
		return true
	}
	return false
}

const DefaultMaxIterations = 5

// WorkchainInputs are the inputs of one restart workchain. Either Pseudos or
// PseudoFamily must be set, and either Options or AutoParallelization.
type WorkchainInputs struct {
	Code                Code                      `json:"code"                           yaml:"code"`
	Structure           Structure                 `json:"structure"                      yaml:"structure"`
	Pseudos             map[string]Pseudo         `json:"pseudos,omitempty"              yaml:"pseudos,omitempty"`
	PseudoFamily        string                    `json:"pseudo_family,omitempty"        yaml:"pseudo_family,omitempty"`
	KPoints             KPoints                   `json:"kpoints"                        yaml:"kpoints"`
	Parameters          Parameters                `json:"parameters"                     yaml:"parameters"`
	Settings            Settings                  `json:"settings"                       yaml:"settings"`
	Options             *Options                  `json:"options,omitempty"              yaml:"options,omitempty"`
	AutoParallelization *AutomaticParallelization `json:"automatic_parallelization,omitempty" yaml:"automatic_parallelization,omitempty"`
	ParentFolder        *RemoteFolder             `json:"parent_folder,omitempty"        yaml:"parent_folder,omitempty"`
	MaxIterations       int                       `json:"max_iterations"                 yaml:"max_iterations"`
	CleanWorkdir        bool                      `json:"clean_workdir"                  yaml:"clean_workdir"`
}

// WorkchainOutputs are the named output slots of a finished workchain.
type WorkchainOutputs struct {
	OutputParameters *OutputParameters `json:"output_parameters"`
	RemoteFolder     *RemoteFolder     `json:"remote_folder"`
	Retrieved        *RetrievedFolder  `json:"retrieved"`
	OutputStructure  *Structure        `json:"output_structure,omitempty"`
}

// Workchain is the persisted record of one restart workchain.
type Workchain struct {
	ID          string
	UserID      string
	Label       string
	NotifyEmail *string
	Inputs      WorkchainInputs

	Status      Status
	Iterations  int
	Outputs     *WorkchainOutputs
	AbortReason *string

	ClaimedAt   *time.Time
	ClaimedBy   *string // worker ID
	HeartbeatAt *time.Time
	CompletedAt *time.Time

	WorkdirPurgedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttemptRecord is the journal entry of one calculation attempt.
type AttemptRecord struct {
	ID             string
	WorkchainID    string
	AttemptNum     int
	WorkerID       string
	RestartMode    string
	StartedAt      time.Time
	CompletedAt    *time.Time
	CalcID         *string
	State          *CalcState
	Converged      bool
	Warnings       []string
	ParserWarnings []string
	RemotePath     *string
	DurationMS     *int64
}
