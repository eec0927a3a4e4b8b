// Package ledger implements the hierarchical append-only ledger store.
//
// The ledger is a set of ordered page sequences, one per level:
// pages, chapters, books, parts, series. The pages level is the unit of
// replication; coarser levels are local batch summaries (see rollup.go).
// The whole structure is persisted as a single JSON object keyed by level
// name, written atomically (temp file + rename) on every append.
package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	klog "github.com/civicmesh/civic-chain/internal/log"
	"github.com/civicmesh/civic-chain/pkg/page"
	"github.com/rs/zerolog"
)

// Levels lists the ledger levels from finest to coarsest.
var Levels = []string{"pages", "chapters", "books", "parts", "series"}

// LevelPages is the base level that peers replicate.
const LevelPages = "pages"

// Chain is the full hierarchical ledger structure.
type Chain map[string][]page.Page

// emptyChain returns a skeleton with every level present and empty.
func emptyChain() Chain {
	c := make(Chain, len(Levels))
	for _, lvl := range Levels {
		c[lvl] = []page.Page{}
	}
	return c
}

// Store owns the ledger file. It is the only writer; all mutations are
// serialized through its mutex at whole-file granularity.
type Store struct {
	mu        sync.RWMutex
	path      string
	batchSize int
	chain     Chain
	logger    zerolog.Logger
}

// Open loads the ledger from path, or starts an empty skeleton if the file
// does not exist. A corrupt file is an error: refusing to start beats
// silently forking the chain.
func Open(path string, batchSize int) (*Store, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	s := &Store{
		path:      path,
		batchSize: batchSize,
		chain:     emptyChain(),
		logger:    klog.Ledger,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.logger.Info().Str("path", path).Msg("No ledger file, starting empty chain")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger file %s: %w", path, err)
	}

	var chain Chain
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("parse ledger file %s: %w", path, err)
	}
	for _, lvl := range Levels {
		if chain[lvl] == nil {
			chain[lvl] = []page.Page{}
		}
	}
	s.chain = chain

	s.logger.Info().
		Str("path", path).
		Int("height", len(chain[LevelPages])).
		Msg("Ledger loaded")
	return s, nil
}

// Height returns the number of pages in the base level. This is the sync
// height peers compare.
func (s *Store) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.chain[LevelPages]))
}

// Tip returns a copy of the last page of the base level, or nil when empty.
func (s *Store) Tip() *page.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.chain[LevelPages]
	if len(pages) == 0 {
		return nil
	}
	tip := pages[len(pages)-1]
	return &tip
}

// Snapshot returns a deep copy of the full chain structure.
func (s *Store) Snapshot() Chain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Chain, len(s.chain))
	for lvl, pages := range s.chain {
		cp := make([]page.Page, len(pages))
		copy(cp, pages)
		out[lvl] = cp
	}
	return out
}

// PageRange returns up to limit pages starting at index from. Used by the
// sync download endpoint. An out-of-range from yields an empty slice.
func (s *Store) PageRange(from uint64, limit int) []page.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pages := s.chain[LevelPages]
	if from >= uint64(len(pages)) || limit <= 0 {
		return []page.Page{}
	}
	end := from + uint64(limit)
	if end > uint64(len(pages)) {
		end = uint64(len(pages))
	}
	out := make([]page.Page, end-from)
	copy(out, pages[from:end])
	return out
}

// AddPage appends a locally-minted page to the base level and returns its
// hash. The signature is the caller's (may be empty for unsigned writes).
func (s *Store) AddPage(data json.RawMessage, validator, signature string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := s.chain[LevelPages]
	var prev *page.Page
	if len(pages) > 0 {
		prev = &pages[len(pages)-1]
	}

	p, err := page.New(uint64(len(pages)), prev, data, validator, signature)
	if err != nil {
		return "", fmt.Errorf("mint page: %w", err)
	}

	undo := s.lengthsLocked()
	s.chain[LevelPages] = append(pages, p)
	s.rollupLocked()

	if err := s.persistLocked(); err != nil {
		// Roll back the in-memory append so memory and disk stay consistent.
		s.truncateLocked(undo)
		return "", fmt.Errorf("persist ledger: %w", err)
	}

	s.logger.Debug().
		Uint64("index", p.Index).
		Str("hash", p.Hash[:16]).
		Str("validator", validator).
		Msg("Page appended")
	return p.Hash, nil
}

// AddSignedPage mints a page whose signature is produced mid-build: the
// page is assembled unsigned, sign is called with its signing digest, and
// the hash is sealed over the signed result.
func (s *Store) AddSignedPage(data json.RawMessage, validator string, sign func(digest []byte) ([]byte, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := s.chain[LevelPages]
	var prev *page.Page
	if len(pages) > 0 {
		prev = &pages[len(pages)-1]
	}

	p, err := page.New(uint64(len(pages)), prev, data, validator, "")
	if err != nil {
		return "", fmt.Errorf("mint page: %w", err)
	}

	digest, err := p.SigningDigest()
	if err != nil {
		return "", err
	}
	sig, err := sign(digest)
	if err != nil {
		return "", fmt.Errorf("sign page: %w", err)
	}
	p.Signature = hex.EncodeToString(sig)
	if p.Hash, err = p.ComputeHash(); err != nil {
		return "", err
	}

	undo := s.lengthsLocked()
	s.chain[LevelPages] = append(pages, p)
	s.rollupLocked()

	if err := s.persistLocked(); err != nil {
		s.truncateLocked(undo)
		return "", fmt.Errorf("persist ledger: %w", err)
	}

	s.logger.Debug().
		Uint64("index", p.Index).
		Str("hash", p.Hash[:16]).
		Str("validator", validator).
		Msg("Signed page appended")
	return p.Hash, nil
}

// AppendRemote validates and appends a page received from a peer. The page
// must extend the current tip exactly: contiguous index, matching link,
// and a hash that recomputes bit-exact.
func (s *Store) AppendRemote(p page.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := s.chain[LevelPages]
	var prev *page.Page
	if len(pages) > 0 {
		prev = &pages[len(pages)-1]
	}

	if p.Index != uint64(len(pages)) {
		return fmt.Errorf("page index %d does not extend local height %d", p.Index, len(pages))
	}
	if err := p.Verify(prev); err != nil {
		return err
	}

	undo := s.lengthsLocked()
	s.chain[LevelPages] = append(pages, p)
	s.rollupLocked()

	if err := s.persistLocked(); err != nil {
		s.truncateLocked(undo)
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// AppendBatch validates a contiguous run of remote pages against the
// current tip and appends them all, or none. A single bad page poisons
// the whole batch: nothing is persisted and the error names the page.
func (s *Store) AppendBatch(batch []page.Page) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pages := s.chain[LevelPages]
	var prev *page.Page
	if len(pages) > 0 {
		prev = &pages[len(pages)-1]
	}

	// Validate the full batch before touching state.
	for i := range batch {
		p := &batch[i]
		if p.Index != uint64(len(pages))+uint64(i) {
			return fmt.Errorf("batch page %d: index does not extend local height %d", p.Index, len(pages))
		}
		if err := p.Verify(prev); err != nil {
			return fmt.Errorf("batch rejected: %w", err)
		}
		prev = p
	}

	undo := s.lengthsLocked()
	s.chain[LevelPages] = append(pages, batch...)
	s.rollupLocked()

	if err := s.persistLocked(); err != nil {
		s.truncateLocked(undo)
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// lengthsLocked records the current length of every level. Caller holds mu.
func (s *Store) lengthsLocked() map[string]int {
	lens := make(map[string]int, len(Levels))
	for _, lvl := range Levels {
		lens[lvl] = len(s.chain[lvl])
	}
	return lens
}

// truncateLocked restores every level to a recorded length. Caller holds mu.
func (s *Store) truncateLocked(lens map[string]int) {
	for _, lvl := range Levels {
		s.chain[lvl] = s.chain[lvl][:lens[lvl]]
	}
}

// persistLocked writes the whole chain to disk atomically. Caller holds mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.chain, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chain: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
