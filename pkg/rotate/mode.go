package rotate

// Mode selects between applying filesystem mutations and logging the
// commands that would have run.
type Mode int

const (
	ModeApply Mode = iota
	ModeDryRun
)

func (m Mode) String() string {
	if m == ModeDryRun {
		return "dry-run"
	}
	return "apply"
}
