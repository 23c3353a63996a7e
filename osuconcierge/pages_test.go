package osuconcierge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPages_ZeroPerPage(t *testing.T) {
	p, err := NewPages(0, 10)
	assert.ErrorIs(t, err, ErrZeroPerPage)
	assert.Nil(t, p)
}

func TestPages_Empty(t *testing.T) {
	p, err := NewPages(15, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentPage())
	assert.Equal(t, 1, p.LastPage())

	start, end := p.Window()
	assert.Equal(t, 0, start)
	assert.Equal(t, 0, end)

	assert.False(t, p.Next())
	assert.False(t, p.Last())

	var verr *ValidationError
	assert.True(t, errors.As(p.JumpToItem(1), &verr))
}

func TestPages_LastPageScenario(t *testing.T) {
	p, err := NewPages(15, 37)
	require.NoError(t, err)
	assert.Equal(t, 3, p.LastPage())

	require.NoError(t, p.JumpToPage(3))
	assert.Equal(t, 30, p.Index())
	start, end := p.Window()
	assert.Equal(t, 30, start)
	assert.Equal(t, 37, end)

	assert.False(t, p.Next())
	assert.Equal(t, 30, p.Index())
}

func TestPages_LastThenFirst(t *testing.T) {
	p, err := NewPages(10, 95)
	require.NoError(t, err)

	assert.True(t, p.Last())
	assert.Equal(t, 90, p.Index())
	assert.Equal(t, 10, p.CurrentPage())
	assert.True(t, p.First())
	assert.Equal(t, 0, p.Index())
	assert.False(t, p.Previous())
}

func TestPages_JumpOutOfRange(t *testing.T) {
	p, err := NewPages(15, 37)
	require.NoError(t, err)
	require.True(t, p.Next())

	for _, page := range []int{-1, 0, 4, 100} {
		err = p.JumpToPage(page)
		var verr *ValidationError
		require.Truef(t, errors.As(err, &verr), "page %d", page)
		assert.Equal(t, "Page must be between 1 and 3", verr.Reason)
		assert.Equal(t, 15, p.Index())
	}
}

func TestPages_JumpToItem(t *testing.T) {
	testCases := []struct {
		name     string
		position int
		index    int
		wantErr  bool
	}{
		{name: "first item", position: 1, index: 0},
		{name: "last item on first page", position: 15, index: 0},
		{name: "first item on second page", position: 16, index: 15},
		{name: "last item", position: 37, index: 30},
		{name: "zero", position: 0, wantErr: true},
		{name: "past end", position: 38, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				p, err := NewPages(15, 37)
				require.NoError(t, err)
				err = p.JumpToItem(tc.position)
				if tc.wantErr {
					var verr *ValidationError
					assert.True(t, errors.As(err, &verr))
					assert.Equal(t, 0, p.Index())
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.index, p.Index())
			},
		)
	}
}

func TestPages_Advance(t *testing.T) {
	p, err := NewPages(5, 48)
	require.NoError(t, err)

	changed, err := p.Advance(Navigation{Direction: NavNext, Amount: 3})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 4, p.CurrentPage())

	changed, err = p.Advance(Navigation{Direction: NavNext, Amount: 50})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 10, p.CurrentPage())
	assert.Equal(t, 45, p.Index())

	changed, err = p.Advance(Navigation{Direction: NavPrevious})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 9, p.CurrentPage())

	changed, err = p.Advance(Navigation{Direction: NavJump, Amount: 11})
	assert.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, 9, p.CurrentPage())

	_, err = p.Advance(Navigation{Direction: "sideways"})
	assert.Error(t, err)
}

func TestPages_WindowBounds(t *testing.T) {
	for perPage := 1; perPage <= 12; perPage++ {
		for total := 0; total <= 40; total++ {
			p, err := NewPages(perPage, total)
			require.NoError(t, err)
			for {
				start, end := p.Window()
				require.LessOrEqual(t, 0, start)
				require.LessOrEqual(t, start, end)
				require.LessOrEqual(t, end, total)
				require.LessOrEqual(t, end-start, perPage)
				if total > 0 {
					require.Less(t, p.Index(), total)
					require.Zero(t, p.Index()%perPage)
				}
				if !p.Next() {
					break
				}
			}
		}
	}
}

func TestPages_Footer(t *testing.T) {
	p, err := NewPages(15, 37)
	require.NoError(t, err)
	p.Next()
	assert.Equal(t, "Page 2/3", p.Footer())
}
