package domain

import "time"

// CalcState is the terminal state reported by the calculation runner.
type CalcState string

const (
	CalcStateFinished         CalcState = "FINISHED"
	CalcStateFailed           CalcState = "FAILED"
	CalcStateSubmissionFailed CalcState = "SUBMISSIONFAILED"
	CalcStateRetrievalFailed  CalcState = "RETRIEVALFAILED"
	CalcStateParsingFailed    CalcState = "PARSINGFAILED"
)

const (
	RestartModeFromScratch = "from_scratch"
	RestartModeRestart     = "restart"
)

const PseudoFormatUPF = "upf"

// Code identifies the pw.x installation to run.
type Code struct {
	Label   string `json:"label"             yaml:"label"`
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
}

// Pseudo is a pseudopotential file for one chemical kind.
type Pseudo struct {
	Element  string `json:"element"       yaml:"element"`
	Filename string `json:"filename"      yaml:"filename"`
	Format   string `json:"format"        yaml:"format"`
	MD5      string `json:"md5,omitempty" yaml:"md5,omitempty"`
}

// KPoints is either an automatic Monkhorst-Pack mesh or an explicit list of
// points in crystal coordinates.
type KPoints struct {
	Mesh    [3]int       `json:"mesh,omitempty"    yaml:"mesh,omitempty"`
	Offset  [3]float64   `json:"offset,omitempty"  yaml:"offset,omitempty"`
	List    [][3]float64 `json:"list,omitempty"    yaml:"list,omitempty"`
	Weights []float64    `json:"weights,omitempty" yaml:"weights,omitempty"`
}

func (k KPoints) IsMesh() bool { return len(k.List) == 0 }

// Settings are runner-level knobs that are not pw.x namelist variables.
type Settings struct {
	CmdLine    []string `json:"cmdline,omitempty"     yaml:"cmdline,omitempty"`
	MaxSeconds int      `json:"max_seconds,omitempty" yaml:"max_seconds,omitempty"`
}

func (s Settings) Clone() Settings {
	return Settings{CmdLine: append([]string(nil), s.CmdLine...), MaxSeconds: s.MaxSeconds}
}

type Resources struct {
	NumMachines           int `json:"num_machines"                      yaml:"num_machines"`
	NumMPIProcsPerMachine int `json:"num_mpiprocs_per_machine"          yaml:"num_mpiprocs_per_machine"`
	NumCoresPerMPIProc    int `json:"num_cores_per_mpiproc,omitempty"   yaml:"num_cores_per_mpiproc,omitempty"`
}

// TotalMPIProcs is the number of MPI ranks the resources describe.
func (r Resources) TotalMPIProcs() int {
	n := r.NumMachines * r.NumMPIProcsPerMachine
	if n < 1 {
		return 1
	}
	return n
}

// Options are the scheduler resources for one calculation.
type Options struct {
	Resources           Resources `json:"resources"             yaml:"resources"`
	MaxWallclockSeconds int       `json:"max_wallclock_seconds" yaml:"max_wallclock_seconds"`
	QueueName           string    `json:"queue_name,omitempty"  yaml:"queue_name,omitempty"`
}

// AutomaticParallelization asks the workchain to derive Options itself.
type AutomaticParallelization struct {
	MaxNumMachines      int `json:"max_num_machines"      yaml:"max_num_machines"`
	MaxWallclockSeconds int `json:"max_wallclock_seconds" yaml:"max_wallclock_seconds"`
	TargetTimeSeconds   int `json:"target_time_seconds"   yaml:"target_time_seconds"`
}

// RemoteFolder is the working directory a calculation ran in.
type RemoteFolder struct {
	Computer string `json:"computer" yaml:"computer"`
	Path     string `json:"path"     yaml:"path"`
}

// RetrievedFolder holds the files copied back after a calculation.
type RetrievedFolder struct {
	Path  string   `json:"path"`
	Files []string `json:"files"`
}

// CalcInputs is everything one pw.x attempt is launched with.
type CalcInputs struct {
	Code         Code              `json:"code"`
	Structure    *Structure        `json:"structure"`
	Pseudos      map[string]Pseudo `json:"pseudos"`
	KPoints      KPoints           `json:"kpoints"`
	Parameters   Parameters        `json:"parameters"`
	Settings     Settings          `json:"settings"`
	Options      Options           `json:"options"`
	ParentFolder *RemoteFolder     `json:"parent_folder,omitempty"`
}

// OutputParameters is the parsed result of one attempt: warnings from the
// stdout scan and, when the XML was decoded, the XML record.
type OutputParameters struct {
	Warnings        []string          `json:"warnings"`
	ParserWarnings  []string          `json:"parser_warnings"`
	WallTimeSeconds float64           `json:"wall_time_seconds"`
	XML             *ParsedParameters `json:"xml,omitempty"`
	Bands           *BandsData        `json:"bands,omitempty"`
}

type CalcOutputs struct {
	Parameters   *OutputParameters `json:"output_parameters,omitempty"`
	RemoteFolder *RemoteFolder     `json:"remote_folder,omitempty"`
	Retrieved    *RetrievedFolder  `json:"retrieved,omitempty"`
	Structure    *Structure        `json:"output_structure,omitempty"`
}

// Attempt is one execution of pw.x. It is immutable once the runner returns.
type Attempt struct {
	ID          string
	Index       int
	Inputs      CalcInputs
	State       CalcState
	Converged   bool
	Outputs     CalcOutputs
	StartedAt   time.Time
	CompletedAt time.Time
}

// FinishedOK reports whether the attempt finished and reached convergence.
func (a *Attempt) FinishedOK() bool {
	return a.State == CalcStateFinished && a.Converged
}
