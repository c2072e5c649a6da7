// Package accumulator turns one adapter response into an immutable result
// batch without ever exceeding the job's target.
//
// Only duplicates inside a single provider response are dropped. Results
// from different calls are kept as independent sources; cross-call
// de-duplication belongs to the presentation and export layer.
package accumulator

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/creatorscout/searchjobs/pkg/provider"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// Result is what one accumulation produced.
type Result struct {
	// Batch is nil when nothing is left to persist.
	Batch *types.ResultBatch
	// Added is the count the state machine adds to processedResults.
	Added int
	// Skipped counts items that failed normalization.
	Skipped int
	// Duplicates counts repeated handles within the response.
	Duplicates int
	// Truncated counts normalized items dropped by the target cap.
	Truncated int
}

// Accumulate normalizes page items with the adapter, truncates them to the
// job's remaining capacity and wraps the survivors in a new batch.
func Accumulate(job *types.Job, adapter provider.Adapter, page *provider.Page, runNumber int, now time.Time) Result {
	var res Result
	if page == nil {
		return res
	}

	remaining := job.Remaining()
	seen := make(map[string]struct{}, len(page.Items))
	creators := make([]types.Creator, 0, min(len(page.Items), remaining))

	for _, raw := range page.Items {
		c, err := adapter.Normalize(raw)
		if err != nil {
			res.Skipped++
			log.Debug().Err(err).Str("job_id", job.ID).Str("provider", adapter.Name()).Msg("skipping provider item")
			continue
		}
		key := string(c.Platform) + "/" + strings.ToLower(c.Handle)
		if _, dup := seen[key]; dup {
			res.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		if len(creators) >= remaining {
			res.Truncated++
			continue
		}
		creators = append(creators, c)
	}

	res.Added = len(creators)
	if res.Added == 0 {
		return res
	}

	res.Batch = &types.ResultBatch{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		RunNumber: runNumber,
		Provider:  adapter.Name(),
		Creators:  creators,
		CreatedAt: now,
	}
	return res
}
