package osuconcierge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	higherLowerCustomIDHigher = "higher_lower:higher"
	higherLowerCustomIDLower  = "higher_lower:lower"
	higherLowerCustomIDNext   = "higher_lower:next"
	higherLowerCustomIDRetry  = "higher_lower:retry"
	higherLowerCustomIDStop   = "higher_lower:stop"

	// scores are picked from players on the first pages of the
	// performance ranking
	higherLowerRankingPages = 20

	// attempts at picking a score different from the previous one
	higherLowerMaxRerolls = 5

	embedColorCorrect = 0x57f287
)

var errNoHigherLowerScore = errors.New("no score to pick")

// HigherLowerScore is a top play, whose pp value is guessed
type HigherLowerScore struct {
	ScoreID     int64
	UserID      int
	Username    string
	CountryCode string
	AvatarURL   string
	GlobalRank  int
	PP          float64
	Accuracy    float64
	Beatmapset  OsuBeatmapset
	Beatmap     OsuBeatmap
}

// HigherLowerSource picks a random score. previous is the score it
// must differ from, or nil at the start of a game.
type HigherLowerSource func(ctx context.Context, mode GameMode, previous *HigherLowerScore) (*HigherLowerScore, error)

// RandomScoreSource picks a random top play of a random player on the
// performance ranking
func RandomScoreSource(api OsuAPI, rng *rand.Rand) HigherLowerSource {
	return func(ctx context.Context, mode GameMode, _ *HigherLowerScore) (*HigherLowerScore, error) {
		users, err := api.PerformanceRanking(ctx, mode, 1+rng.IntN(higherLowerRankingPages))
		if err != nil {
			return nil, fmt.Errorf("error getting ranking: %w", err)
		}
		if len(users) == 0 {
			return nil, fmt.Errorf("%w: empty ranking", errNoHigherLowerScore)
		}
		user := users[rng.IntN(len(users))]

		scores, err := api.TopScores(ctx, user.ID, mode)
		if err != nil {
			return nil, fmt.Errorf("error getting top scores: %w", err)
		}
		withPP := make([]OsuScore, 0, len(scores))
		for _, s := range scores {
			if s.PP != nil {
				withPP = append(withPP, s)
			}
		}
		if len(withPP) == 0 {
			return nil, fmt.Errorf("%w: user %d has no scores with pp", errNoHigherLowerScore, user.ID)
		}
		s := withPP[rng.IntN(len(withPP))]

		rv := &HigherLowerScore{
			ScoreID:     s.ID,
			UserID:      user.ID,
			Username:    user.Username,
			CountryCode: user.CountryCode,
			AvatarURL:   user.AvatarURL,
			PP:          *s.PP,
			Accuracy:    s.Accuracy,
			Beatmapset:  s.Beatmapset,
			Beatmap:     s.Beatmap,
		}
		if user.Statistics.GlobalRank != nil {
			rv.GlobalRank = *user.Statistics.GlobalRank
		}
		return rv, nil
	}
}

// HigherLowerGuess is a guess of whether the next score is worth more
// or less than the previous one
type HigherLowerGuess string

const (
	GuessHigher HigherLowerGuess = "higher"
	GuessLower  HigherLowerGuess = "lower"
)

type higherLowerPhase int

const (
	// waiting on a guess
	higherLowerGuessing higherLowerPhase = iota
	higherLowerCorrect
	higherLowerWrong
)

// HigherLowerGame is a game of guessing whether the next top play is
// worth more or less pp than the previous one. Each correct guess adds
// a point, and a wrong guess ends the round.
type HigherLowerGame struct {
	mode     GameMode
	source   HigherLowerSource
	previous *HigherLowerScore
	next     *HigherLowerScore
	phase    higherLowerPhase
	guess    HigherLowerGuess
	score    int
	highest  int
}

// NewHigherLowerGame picks the first two scores
func NewHigherLowerGame(ctx context.Context, mode GameMode, source HigherLowerSource) (*HigherLowerGame, error) {
	g := &HigherLowerGame{mode: mode, source: source}
	if err := g.restart(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (*HigherLowerGame) Kind() string {
	return "higher_lower"
}

func (g *HigherLowerGame) restart(ctx context.Context) error {
	previous, err := g.source(ctx, g.mode, nil)
	if err != nil {
		return err
	}
	next, err := g.pickNext(ctx, previous)
	if err != nil {
		return err
	}
	g.previous, g.next = previous, next
	g.phase = higherLowerGuessing
	g.score = 0
	return nil
}

// pickNext picks a score other than previous
func (g *HigherLowerGame) pickNext(ctx context.Context, previous *HigherLowerScore) (*HigherLowerScore, error) {
	for range higherLowerMaxRerolls {
		next, err := g.source(ctx, g.mode, previous)
		if err != nil {
			return nil, err
		}
		if next.ScoreID != previous.ScoreID {
			return next, nil
		}
	}
	return nil, fmt.Errorf("%w: only found score %d", errNoHigherLowerScore, previous.ScoreID)
}

// checkGuess reports whether guess is right. Equal pp counts as both
// higher and lower.
func (g *HigherLowerGame) checkGuess(guess HigherLowerGuess) bool {
	if guess == GuessHigher {
		return g.next.PP >= g.previous.PP
	}
	return g.next.PP <= g.previous.PP
}

func (g *HigherLowerGame) Score() int {
	return g.score
}

func (g *HigherLowerGame) HighestScore() int {
	return g.highest
}

func higherLowerScoreLine(s *HigherLowerScore, mode GameMode, revealed bool) string {
	pp := "???"
	if revealed {
		pp = formatFloat(s.PP, 2) + "pp"
	}
	return fmt.Sprintf(
		"**%s** (#%s %s) on [%s - %s [%s]](%s/b/%d)\n%s%% • **%s**",
		fmt.Sprintf("[%s](%s/users/%d/%s)", s.Username, DefaultOsuBaseURL, s.UserID, mode),
		formatInt(s.GlobalRank),
		s.CountryCode,
		s.Beatmapset.Artist,
		s.Beatmapset.Title,
		s.Beatmap.Version,
		DefaultOsuBaseURL,
		s.Beatmap.ID,
		formatFloat(s.Accuracy*100, 2),
		pp,
	)
}

func (g *HigherLowerGame) RenderPage(context.Context) (*PageContent, error) {
	title := "Higher or Lower: Score PP"
	if g.mode != GameModeOsu {
		title += fmt.Sprintf(" (%s)", g.mode)
	}

	revealed := g.phase != higherLowerGuessing
	color := embedColorDefault
	var result string
	switch g.phase {
	case higherLowerCorrect:
		color = embedColorCorrect
		result = fmt.Sprintf("Correct, **%s** was right!", g.guess)
	case higherLowerWrong:
		color = embedColorError
		result = fmt.Sprintf("Wrong, it wasn't **%s**. Game over!", g.guess)
	default:
		result = "Is the next score worth **higher** or **lower** pp?"
	}

	var sb strings.Builder
	sb.WriteString(higherLowerScoreLine(g.previous, g.mode, true))
	sb.WriteString("\n\n")
	sb.WriteString(higherLowerScoreLine(g.next, g.mode, revealed))
	sb.WriteString("\n\n")
	sb.WriteString(result)

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Color:       color,
		Description: sb.String(),
		Image:       &discordgo.MessageEmbedImage{URL: g.next.Beatmapset.CoverURL()},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Current score: %d • Highest score: %d", g.score, g.highest),
		},
	}
	return &PageContent{Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func (g *HigherLowerGame) RenderControls() []discordgo.MessageComponent {
	stop := discordgo.Button{
		CustomID: higherLowerCustomIDStop,
		Label:    "Stop",
		Style:    discordgo.DangerButton,
	}
	var buttons []discordgo.MessageComponent
	switch g.phase {
	case higherLowerCorrect:
		buttons = []discordgo.MessageComponent{
			discordgo.Button{CustomID: higherLowerCustomIDNext, Label: "Next", Style: discordgo.PrimaryButton},
			stop,
		}
	case higherLowerWrong:
		buttons = []discordgo.MessageComponent{
			discordgo.Button{CustomID: higherLowerCustomIDRetry, Label: "Try again", Style: discordgo.PrimaryButton},
			stop,
		}
	default:
		buttons = []discordgo.MessageComponent{
			discordgo.Button{
				CustomID: higherLowerCustomIDHigher,
				Label:    "Higher",
				Emoji:    &discordgo.ComponentEmoji{Name: "⬆"},
				Style:    discordgo.SuccessButton,
			},
			discordgo.Button{
				CustomID: higherLowerCustomIDLower,
				Label:    "Lower",
				Emoji:    &discordgo.ComponentEmoji{Name: "⬇"},
				Style:    discordgo.SuccessButton,
			},
			stop,
		}
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

// OnComponent applies a guess, or moves on to the next round. Buttons
// that don't belong to the current phase are ignored, since a stale
// double click may still arrive for them.
func (g *HigherLowerGame) OnComponent(ctx context.Context, ev *ComponentEvent) (ComponentOutcome, error) {
	switch ev.CustomID {
	case higherLowerCustomIDStop:
		return OutcomeClose, nil
	case higherLowerCustomIDHigher, higherLowerCustomIDLower:
		if g.phase != higherLowerGuessing {
			return OutcomeIgnore, nil
		}
		g.guess = GuessHigher
		if ev.CustomID == higherLowerCustomIDLower {
			g.guess = GuessLower
		}
		if !g.checkGuess(g.guess) {
			g.phase = higherLowerWrong
			return OutcomeUpdate, nil
		}
		g.score++
		g.highest = max(g.highest, g.score)
		g.phase = higherLowerCorrect
		return OutcomeUpdate, nil
	case higherLowerCustomIDNext:
		if g.phase != higherLowerCorrect {
			return OutcomeIgnore, nil
		}
		next, err := g.pickNext(ctx, g.next)
		if err != nil {
			return OutcomeIgnore, err
		}
		g.previous, g.next = g.next, next
		g.phase = higherLowerGuessing
		return OutcomeUpdate, nil
	case higherLowerCustomIDRetry:
		if g.phase != higherLowerWrong {
			return OutcomeIgnore, nil
		}
		if err := g.restart(ctx); err != nil {
			return OutcomeIgnore, err
		}
		return OutcomeUpdate, nil
	default:
		return OutcomeIgnore, nil
	}
}

func (*HigherLowerGame) OnModal(_ context.Context, ev *ModalEvent) error {
	return fmt.Errorf("unexpected modal: %q", ev.CustomID)
}
