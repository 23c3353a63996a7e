package osuconcierge

import (
	"errors"
	"fmt"
	"log/slog"
)

var ErrZeroPerPage = errors.New("items per page must be greater than zero")

// NavDirection identifies a pagination move
type NavDirection string

const (
	NavFirst    NavDirection = "first"
	NavPrevious NavDirection = "previous"
	NavNext     NavDirection = "next"
	NavLast     NavDirection = "last"
	NavJump     NavDirection = "jump"
)

// Navigation is a single cursor move. Amount is the number of pages for
// NavPrevious/NavNext (treated as 1 when <= 0), and the target page for
// NavJump.
type Navigation struct {
	Direction NavDirection
	Amount    int
}

// ValidationError is returned for user input that can't be applied,
// such as a page number outside the valid range. Reason is shown to
// the user as-is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Pages tracks the current position in a fixed-size, ordered collection.
//
// The index is the 0-based offset of the first item on the current page,
// and is always a multiple of the page size. The collection size never
// changes after creation.
type Pages struct {
	index   int
	perPage int
	total   int
}

// NewPages returns a cursor positioned on the first page.
// A total of zero is valid, and renders as a single empty page.
func NewPages(perPage int, total int) (*Pages, error) {
	if perPage <= 0 {
		return nil, ErrZeroPerPage
	}
	if total < 0 {
		total = 0
	}
	return &Pages{perPage: perPage, total: total}, nil
}

func (p *Pages) Index() int {
	return p.index
}

func (p *Pages) PerPage() int {
	return p.perPage
}

func (p *Pages) Total() int {
	return p.total
}

func (p *Pages) CurrentPage() int {
	return p.index/p.perPage + 1
}

// LastPage returns the number of pages, with a minimum of 1
func (p *Pages) LastPage() int {
	if p.total == 0 {
		return 1
	}
	return (p.total + p.perPage - 1) / p.perPage
}

// Window returns the half-open bounds of the current page
func (p *Pages) Window() (start int, end int) {
	start = min(p.index, p.total)
	end = min(start+p.perPage, p.total)
	return start, end
}

func (p *Pages) OnFirstPage() bool {
	return p.CurrentPage() == 1
}

func (p *Pages) OnLastPage() bool {
	return p.CurrentPage() == p.LastPage()
}

func (p *Pages) setPage(page int) bool {
	page = max(1, min(page, p.LastPage()))
	idx := (page - 1) * p.perPage
	if idx == p.index {
		return false
	}
	p.index = idx
	return true
}

// First moves to the first page, reporting whether the index changed
func (p *Pages) First() bool {
	return p.setPage(1)
}

// Last moves to the last page, reporting whether the index changed
func (p *Pages) Last() bool {
	return p.setPage(p.LastPage())
}

// Next moves forward one page. On the last page, it's a no-op.
func (p *Pages) Next() bool {
	return p.setPage(p.CurrentPage() + 1)
}

// Previous moves back one page. On the first page, it's a no-op.
func (p *Pages) Previous() bool {
	return p.setPage(p.CurrentPage() - 1)
}

// JumpToPage moves to the given 1-based page. Pages outside of
// [1, LastPage] are rejected, and the cursor is left unchanged.
func (p *Pages) JumpToPage(page int) error {
	last := p.LastPage()
	if page < 1 || page > last {
		return validationErrorf("Page must be between 1 and %d", last)
	}
	p.setPage(page)
	return nil
}

// JumpToItem moves to the page containing the given 1-based item
// position.
func (p *Pages) JumpToItem(position int) error {
	if p.total == 0 {
		return validationErrorf("There are no entries to jump to")
	}
	if position < 1 || position > p.total {
		return validationErrorf("Position must be between 1 and %d", p.total)
	}
	p.setPage((position-1)/p.perPage + 1)
	return nil
}

// Advance applies the given navigation, reporting whether the index
// changed. Only NavJump can fail.
func (p *Pages) Advance(nav Navigation) (bool, error) {
	amount := nav.Amount
	if amount <= 0 {
		amount = 1
	}
	switch nav.Direction {
	case NavFirst:
		return p.First(), nil
	case NavLast:
		return p.Last(), nil
	case NavNext:
		return p.setPage(p.CurrentPage() + amount), nil
	case NavPrevious:
		return p.setPage(p.CurrentPage() - amount), nil
	case NavJump:
		before := p.index
		if err := p.JumpToPage(nav.Amount); err != nil {
			return false, err
		}
		return before != p.index, nil
	default:
		return false, fmt.Errorf("unknown navigation direction: %q", nav.Direction)
	}
}

// Footer returns the standard "Page x/y" footer text
func (p *Pages) Footer() string {
	return fmt.Sprintf("Page %d/%d", p.CurrentPage(), p.LastPage())
}

func (p *Pages) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("index", p.index),
		slog.Int("per_page", p.perPage),
		slog.Int("total", p.total),
		slog.Int("page", p.CurrentPage()),
	)
}
