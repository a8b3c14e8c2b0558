// Package collect orchestrates long-horizon acquisition runs: it plans
// chunked work over decades of history, executes chunks through the provider
// pool with validation and quality gating, and checkpoints progress so an
// interrupted run resumes where it stopped.
package collect

import (
	"time"

	"marketvault/internal/domain"
)

// Era boundaries and chunk widths. Recent history is fetched in narrow,
// high-priority chunks; deep history in wide, low-priority ones.
const (
	recentEraYears = 3
	middleEraYears = 10

	recentChunkMonths = 3
	middleChunkMonths = 6
	deepChunkMonths   = 12
)

// PlanChunks splits [start, end] into acquisition chunks for the symbol set,
// ordered most recent first. Chunk width and priority follow the era of the
// chunk's end date relative to now.
func PlanChunks(symbols []string, start, end, now time.Time) []domain.AcquisitionChunk {
	if end.Before(start) || len(symbols) == 0 {
		return nil
	}

	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = domain.NormalizeTicker(s)
	}

	recentCutoff := now.AddDate(-recentEraYears, 0, 0)
	middleCutoff := now.AddDate(-middleEraYears, 0, 0)

	var chunks []domain.AcquisitionChunk
	cursor := end
	for !cursor.Before(start) {
		months := deepChunkMonths
		priority := domain.PriorityLow
		switch {
		case cursor.After(recentCutoff):
			months, priority = recentChunkMonths, domain.PriorityHigh
		case cursor.After(middleCutoff):
			months, priority = middleChunkMonths, domain.PriorityMedium
		}

		chunkStart := cursor.AddDate(0, -months, 0).AddDate(0, 0, 1)
		if chunkStart.Before(start) {
			chunkStart = start
		}
		chunks = append(chunks, domain.AcquisitionChunk{
			Symbols:  normalized,
			Start:    chunkStart,
			End:      cursor,
			Priority: priority,
		})
		cursor = chunkStart.AddDate(0, 0, -1)
	}

	return chunks
}
