package repository

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// NormalizeLimit clamps a requested history size into (0, MaxHistoryLimit].
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
