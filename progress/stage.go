package progress

// Stage is the phase a sync run is in.
type Stage string

const (
	StageFetching   Stage = "FETCHING"
	StageProcessing Stage = "PROCESSING"
	StageStoring    Stage = "STORING"
	StageCompleted  Stage = "COMPLETED"
	StageFailed     Stage = "FAILED"
)

// Description returns a human readable status line for the stage.
func (s Stage) Description() string {
	switch s {
	case StageFetching:
		return "fetching chat records"
	case StageProcessing:
		return "processing records"
	case StageStoring:
		return "storing embeddings"
	case StageCompleted:
		return "sync completed"
	case StageFailed:
		return "sync failed"
	default:
		return string(s)
	}
}

// Terminal reports whether no further updates follow this stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}
