package page

import "fmt"

// CheckComplete verifies that every required field is present. Pages arrive
// from remote peers as loosely-shaped JSON; a missing field here fails fast
// instead of being masked by a zero value downstream.
func (p *Page) CheckComplete() error {
	if p.PreviousHash == "" {
		return fmt.Errorf("page %d: missing previous_hash", p.Index)
	}
	if p.Timestamp == "" {
		return fmt.Errorf("page %d: missing timestamp", p.Index)
	}
	if len(p.Data) == 0 {
		return fmt.Errorf("page %d: missing data", p.Index)
	}
	if p.Validator == "" {
		return fmt.Errorf("page %d: missing validator", p.Index)
	}
	if p.Hash == "" {
		return fmt.Errorf("page %d: missing hash", p.Index)
	}
	return nil
}

// CheckIntegrity recomputes the page hash and requires bit-exact equality
// with the claimed hash.
func (p *Page) CheckIntegrity() error {
	computed, err := p.ComputeHash()
	if err != nil {
		return err
	}
	if computed != p.Hash {
		return fmt.Errorf("page %d: hash mismatch: computed %s, claimed %s", p.Index, computed, p.Hash)
	}
	return nil
}

// CheckLink verifies the chain link to the predecessor. prev is nil for
// the first page, which must use the genesis sentinel.
func (p *Page) CheckLink(prev *Page) error {
	if prev == nil {
		if p.Index != 0 {
			return fmt.Errorf("page %d: no predecessor for non-genesis index", p.Index)
		}
		if p.PreviousHash != GenesisPrevHash {
			return fmt.Errorf("genesis page: previous_hash must be the zero sentinel, got %s", p.PreviousHash)
		}
		return nil
	}
	if p.Index != prev.Index+1 {
		return fmt.Errorf("page %d: index not contiguous after %d", p.Index, prev.Index)
	}
	if p.PreviousHash != prev.Hash {
		return fmt.Errorf("page %d: previous_hash %s does not match predecessor hash %s", p.Index, p.PreviousHash, prev.Hash)
	}
	return nil
}

// Verify runs the full structural check: completeness, integrity, and link.
func (p *Page) Verify(prev *Page) error {
	if err := p.CheckComplete(); err != nil {
		return err
	}
	if err := p.CheckIntegrity(); err != nil {
		return err
	}
	return p.CheckLink(prev)
}
