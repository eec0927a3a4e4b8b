package ledger

import (
	"encoding/json"

	"github.com/civicmesh/civic-chain/pkg/crypto"
	"github.com/civicmesh/civic-chain/pkg/page"
)

// DefaultBatchSize is how many entries of a level roll into one summary
// entry of the next coarser level.
const DefaultBatchSize = 100

// RollupValidator is the identity recorded on summary pages. Summary pages
// are local derived data, not replicated, so they carry no signature.
const RollupValidator = "rollup"

// rollupSummary is the data payload of a summary page.
type rollupSummary struct {
	Level     string `json:"level"`      // level that was summarized
	FromIndex uint64 `json:"from_index"` // first entry of the batch
	ToIndex   uint64 `json:"to_index"`   // last entry of the batch
	Digest    string `json:"digest"`     // SHA-256 over the batch's concatenated hashes
}

// rollupLocked cascades batch summaries up the hierarchy: every full batch
// of batchSize entries in a level appends one summary page to the next
// coarser level. A summary append can itself complete a batch one level
// up, so the cascade runs finest to coarsest. Caller holds mu.
func (s *Store) rollupLocked() {
	for i := 0; i < len(Levels)-1; i++ {
		fine, coarse := Levels[i], Levels[i+1]

		// Number of complete batches vs summaries already emitted.
		batches := len(s.chain[fine]) / s.batchSize
		emitted := len(s.chain[coarse])

		for b := emitted; b < batches; b++ {
			from := uint64(b * s.batchSize)
			to := uint64((b+1)*s.batchSize - 1)

			var hashes []byte
			for _, p := range s.chain[fine][from : to+1] {
				hashes = append(hashes, []byte(p.Hash)...)
			}

			summary := rollupSummary{
				Level:     fine,
				FromIndex: from,
				ToIndex:   to,
				Digest:    crypto.Sum256Hex(hashes),
			}
			data, err := json.Marshal(summary)
			if err != nil {
				s.logger.Error().Err(err).Str("level", fine).Msg("Rollup summary marshal failed")
				return
			}

			var prev *page.Page
			if existing := s.chain[coarse]; len(existing) > 0 {
				prev = &existing[len(existing)-1]
			}
			sp, err := page.New(uint64(len(s.chain[coarse])), prev, data, RollupValidator, "")
			if err != nil {
				s.logger.Error().Err(err).Str("level", coarse).Msg("Rollup page mint failed")
				return
			}
			s.chain[coarse] = append(s.chain[coarse], sp)

			s.logger.Debug().
				Str("from_level", fine).
				Str("to_level", coarse).
				Uint64("from_index", from).
				Uint64("to_index", to).
				Msg("Batch rolled up")
		}
	}
}
