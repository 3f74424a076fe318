package health

import (
	"facecraft/internal/stats"
	"facecraft/internal/usecase/processor"
)

type pipeline interface {
	Capabilities() processor.Capabilities
	Stats() stats.Snapshot
	ResetStats() stats.Snapshot
}
