package osuconcierge

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedScores returns a source handing out scores worth the given pp,
// in order. Score IDs are the 1-based position in pps.
func scriptedScores(t testing.TB, pps ...float64) HigherLowerSource {
	t.Helper()
	var mu sync.Mutex
	var n int
	return func(context.Context, GameMode, *HigherLowerScore) (*HigherLowerScore, error) {
		mu.Lock()
		defer mu.Unlock()
		if n >= len(pps) {
			return nil, errNoHigherLowerScore
		}
		n++
		return &HigherLowerScore{
			ScoreID:    int64(n),
			UserID:     n,
			Username:   "player",
			PP:         pps[n-1],
			Beatmapset: OsuBeatmapset{ID: 1000 + n},
		}, nil
	}
}

func buttonIDs(t testing.TB, controls []discordgo.MessageComponent) []string {
	t.Helper()
	require.Len(t, controls, 1)
	var ids []string
	for _, c := range controls[0].(discordgo.ActionsRow).Components {
		ids = append(ids, c.(discordgo.Button).CustomID)
	}
	return ids
}

func TestHigherLower_CheckGuess(t *testing.T) {
	tests := []struct {
		name     string
		previous float64
		next     float64
		guess    HigherLowerGuess
		want     bool
	}{
		{name: "higher", previous: 100, next: 200, guess: GuessHigher, want: true},
		{name: "not higher", previous: 200, next: 100, guess: GuessHigher, want: false},
		{name: "lower", previous: 200, next: 100, guess: GuessLower, want: true},
		{name: "not lower", previous: 100, next: 200, guess: GuessLower, want: false},
		{name: "equal is higher", previous: 100, next: 100, guess: GuessHigher, want: true},
		{name: "equal is lower", previous: 100, next: 100, guess: GuessLower, want: true},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				g, err := NewHigherLowerGame(context.Background(), GameModeOsu, scriptedScores(t, tc.previous, tc.next))
				require.NoError(t, err)
				assert.Equal(t, tc.want, g.checkGuess(tc.guess))
			},
		)
	}
}

func TestHigherLower_Rounds(t *testing.T) {
	ctx := context.Background()
	g, err := NewHigherLowerGame(ctx, GameModeTaiko, scriptedScores(t, 100, 200, 150, 300, 10, 20))
	require.NoError(t, err)

	embed := renderEmbed(t, g)
	assert.Equal(t, "Higher or Lower: Score PP (taiko)", embed.Title)
	assert.Contains(t, embed.Description, "**100.00pp**")
	assert.Contains(t, embed.Description, "**???**")
	assert.NotContains(t, embed.Description, "200.00pp")
	assert.Equal(t, "https://assets.ppy.sh/beatmaps/1002/covers/cover.jpg", embed.Image.URL)
	assert.Equal(
		t,
		[]string{higherLowerCustomIDHigher, higherLowerCustomIDLower, higherLowerCustomIDStop},
		buttonIDs(t, g.RenderControls()),
	)

	click := func(customID string) ComponentOutcome {
		t.Helper()
		outcome, err := g.OnComponent(ctx, &ComponentEvent{CustomID: customID})
		require.NoError(t, err)
		return outcome
	}

	assert.Equal(t, OutcomeUpdate, click(higherLowerCustomIDHigher))
	assert.Equal(t, 1, g.Score())
	embed = renderEmbed(t, g)
	assert.Contains(t, embed.Description, "**200.00pp**")
	assert.Equal(t, embedColorCorrect, embed.Color)
	assert.Equal(t, []string{higherLowerCustomIDNext, higherLowerCustomIDStop}, buttonIDs(t, g.RenderControls()))

	// a second click on a guess button from the old controls
	assert.Equal(t, OutcomeIgnore, click(higherLowerCustomIDLower))
	assert.Equal(t, 1, g.Score())

	assert.Equal(t, OutcomeUpdate, click(higherLowerCustomIDNext))
	assert.Equal(t, 200.0, g.previous.PP)
	assert.Equal(t, 150.0, g.next.PP)
	assert.Equal(t, OutcomeUpdate, click(higherLowerCustomIDLower))
	assert.Equal(t, 2, g.Score())

	assert.Equal(t, OutcomeUpdate, click(higherLowerCustomIDNext))
	assert.Equal(t, OutcomeUpdate, click(higherLowerCustomIDLower))
	assert.Equal(t, 2, g.Score())
	assert.Equal(t, 2, g.HighestScore())
	embed = renderEmbed(t, g)
	assert.Equal(t, embedColorError, embed.Color)
	assert.Contains(t, embed.Description, "**300.00pp**")
	assert.Equal(t, "Current score: 2 • Highest score: 2", embed.Footer.Text)
	assert.Equal(t, []string{higherLowerCustomIDRetry, higherLowerCustomIDStop}, buttonIDs(t, g.RenderControls()))
	assert.Equal(t, OutcomeIgnore, click(higherLowerCustomIDNext))

	assert.Equal(t, OutcomeUpdate, click(higherLowerCustomIDRetry))
	assert.Equal(t, 0, g.Score())
	assert.Equal(t, 2, g.HighestScore())
	assert.Equal(t, 10.0, g.previous.PP)
	assert.Equal(t, 20.0, g.next.PP)
	assert.Equal(t, "Current score: 0 • Highest score: 2", renderEmbed(t, g).Footer.Text)

	assert.Equal(t, OutcomeClose, click(higherLowerCustomIDStop))
}

func TestHigherLower_SourceErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewHigherLowerGame(ctx, GameModeOsu, scriptedScores(t, 100))
	require.ErrorIs(t, err, errNoHigherLowerScore)

	same := func(context.Context, GameMode, *HigherLowerScore) (*HigherLowerScore, error) {
		return &HigherLowerScore{ScoreID: 7, PP: 100}, nil
	}
	_, err = NewHigherLowerGame(ctx, GameModeOsu, same)
	require.ErrorIs(t, err, errNoHigherLowerScore)

	// running out of scores mid-game keeps the current round
	g, err := NewHigherLowerGame(ctx, GameModeOsu, scriptedScores(t, 100, 200))
	require.NoError(t, err)
	outcome, err := g.OnComponent(ctx, &ComponentEvent{CustomID: higherLowerCustomIDHigher})
	require.NoError(t, err)
	require.Equal(t, OutcomeUpdate, outcome)
	outcome, err = g.OnComponent(ctx, &ComponentEvent{CustomID: higherLowerCustomIDNext})
	require.ErrorIs(t, err, errNoHigherLowerScore)
	assert.Equal(t, OutcomeIgnore, outcome)
	assert.Equal(t, higherLowerCorrect, g.phase)
	assert.Equal(t, 200.0, g.next.PP)
}

func TestHigherLower_RerollsDuplicates(t *testing.T) {
	ids := []int64{1, 1, 1, 2}
	var n int
	source := func(context.Context, GameMode, *HigherLowerScore) (*HigherLowerScore, error) {
		id := ids[min(n, len(ids)-1)]
		n++
		return &HigherLowerScore{ScoreID: id, PP: float64(id)}, nil
	}
	g, err := NewHigherLowerGame(context.Background(), GameModeOsu, source)
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.previous.ScoreID)
	assert.Equal(t, int64(2), g.next.ScoreID)
	assert.Equal(t, 4, n)
}

func TestRandomScoreSource(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))

	t.Run(
		"picks a scored play", func(t *testing.T) {
			api := newFakeOsuAPI()
			rank := 12
			for page := 1; page <= higherLowerRankingPages; page++ {
				api.ranking[page] = []OsuUser{
					{
						ID:          2,
						Username:    "peppy",
						CountryCode: "AU",
						Statistics:  OsuUserStatistics{GlobalRank: &rank},
					},
				}
			}
			scores := testScores(3)
			scores[0].PP = nil
			scores[2].PP = nil
			api.scores[2] = scores

			for range 10 {
				s, err := RandomScoreSource(api, rng)(ctx, GameModeOsu, nil)
				require.NoError(t, err)
				assert.Equal(t, int64(2), s.ScoreID)
				assert.Equal(t, 499.0, s.PP)
				assert.Equal(t, "peppy", s.Username)
				assert.Equal(t, 12, s.GlobalRank)
				assert.Equal(t, "Song 2", s.Beatmapset.Title)
			}
		},
	)

	t.Run(
		"empty ranking", func(t *testing.T) {
			_, err := RandomScoreSource(newFakeOsuAPI(), rng)(ctx, GameModeOsu, nil)
			assert.ErrorIs(t, err, errNoHigherLowerScore)
		},
	)

	t.Run(
		"no scores with pp", func(t *testing.T) {
			api := newFakeOsuAPI()
			for page := 1; page <= higherLowerRankingPages; page++ {
				api.ranking[page] = []OsuUser{{ID: 2}}
			}
			_, err := RandomScoreSource(api, rng)(ctx, GameModeOsu, nil)
			assert.True(t, errors.Is(err, errNoHigherLowerScore))
		},
	)
}
