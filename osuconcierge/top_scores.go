package osuconcierge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const topScoresPerPage = 5

// missAnalyzerCheck reports whether the miss analyzer wants a button
// for the given score
type missAnalyzerCheck func(ctx context.Context, scoreID int64) (bool, error)

// TopScoresPagination lists a user's top plays
type TopScoresPagination struct {
	user   *OsuUser
	mode   GameMode
	scores []OsuScore
	pages  *Pages

	missAnalyzer        missAnalyzerCheck
	missAnalyzerURL     string
	missAnalyzerTimeout time.Duration
	// score ID -> whether the miss analyzer wants a button. Scores that
	// timed out or failed are stored as false, so a page renders the
	// same way every time.
	missAnalyzerResults map[int64]bool
	logger              *slog.Logger
}

func NewTopScoresPagination(user *OsuUser, mode GameMode, scores []OsuScore) (*TopScoresPagination, error) {
	pages, err := NewPages(topScoresPerPage, len(scores))
	if err != nil {
		return nil, err
	}
	return &TopScoresPagination{
		user:                user,
		mode:                mode,
		scores:              scores,
		pages:               pages,
		missAnalyzerResults: map[int64]bool{},
		logger:              slog.Default(),
	}, nil
}

// WithMissAnalyzer enables miss analyzer buttons, linking to baseURL.
// Lookups taking longer than timeout are treated as not wanting a button.
func (p *TopScoresPagination) WithMissAnalyzer(
	check missAnalyzerCheck,
	baseURL string,
	timeout time.Duration,
	logger *slog.Logger,
) *TopScoresPagination {
	p.missAnalyzer = check
	p.missAnalyzerURL = strings.TrimRight(baseURL, "/")
	p.missAnalyzerTimeout = timeout
	if logger != nil {
		p.logger = logger
	}
	return p
}

func (*TopScoresPagination) Kind() string {
	return "top_scores"
}

// checkMissAnalyzer looks up scores on the current page that haven't
// been checked yet. It never returns an error. Lookups still pending
// after the timeout are recorded as false and left to finish on their
// own.
func (p *TopScoresPagination) checkMissAnalyzer(ctx context.Context) {
	if p.missAnalyzer == nil {
		return
	}
	start, end := p.pages.Window()
	var pending []int64
	for _, s := range p.scores[start:end] {
		if _, ok := p.missAnalyzerResults[s.ID]; !ok {
			pending = append(pending, s.ID)
		}
	}
	if len(pending) == 0 {
		return
	}

	timeout := p.missAnalyzerTimeout
	if timeout <= 0 {
		timeout = DefaultMissAnalyzerTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type missAnalyzerResult struct {
		scoreID int64
		wants   bool
	}
	// buffered so lookups still running after the timeout never block
	results := make(chan missAnalyzerResult, len(pending))
	for _, id := range pending {
		go func() {
			wants, err := p.missAnalyzer(ctx, id)
			if err != nil {
				p.logger.DebugContext(ctx, "miss analyzer check failed", "score_id", id, tint.Err(err))
				wants = false
			}
			results <- missAnalyzerResult{scoreID: id, wants: wants}
		}()
	}

	answered := make(map[int64]bool, len(pending))
wait:
	for range pending {
		select {
		case r := <-results:
			answered[r.scoreID] = r.wants
		case <-ctx.Done():
			p.logger.DebugContext(
				ctx,
				"miss analyzer timed out",
				"answered", len(answered),
				"pending", len(pending),
			)
			break wait
		}
	}
	for _, id := range pending {
		p.missAnalyzerResults[id] = answered[id]
	}
}

func formatScore(idx int, s OsuScore) string {
	var pp string
	if s.PP != nil {
		pp = formatFloat(*s.PP, 2) + "pp"
	} else {
		pp = "-pp"
	}
	mods := "NM"
	if len(s.Mods) > 0 {
		mods = strings.Join(s.Mods, "")
	}
	return fmt.Sprintf(
		"**%d.** [%s - %s [%s]](%s/b/%d) **+%s** [%.2f★]\n"+
			"%s • **%s** • %.2f%% • x%s • %d❌ • %s",
		idx,
		s.Beatmapset.Artist, s.Beatmapset.Title, s.Beatmap.Version,
		DefaultOsuBaseURL, s.Beatmap.ID,
		mods, s.Beatmap.DifficultyRating,
		s.Rank, pp, s.Accuracy*100, formatInt(s.MaxCombo),
		s.Statistics.CountMiss, discordTimestamp(s.CreatedAt, "R"),
	)
}

func (p *TopScoresPagination) RenderPage(ctx context.Context) (*PageContent, error) {
	p.checkMissAnalyzer(ctx)

	start, end := p.pages.Window()
	lines := make([]string, 0, end-start)
	for i, s := range p.scores[start:end] {
		lines = append(lines, formatScore(start+i+1, s))
	}
	description := strings.Join(lines, "\n")
	if len(p.scores) == 0 {
		description = "No top scores found"
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Top plays",
		Color:       embedColorDefault,
		Author:      osuUserAuthor(p.user, p.mode),
		Thumbnail:   osuUserThumbnail(p.user),
		Description: description,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%s • Mode: %s", p.pages.Footer(), p.mode)},
	}
	return &PageContent{Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func (p *TopScoresPagination) RenderControls() []discordgo.MessageComponent {
	rv := paginationControls(p.pages)
	if p.missAnalyzer == nil || p.missAnalyzerURL == "" {
		return rv
	}
	start, end := p.pages.Window()
	var buttons []discordgo.MessageComponent
	for i, s := range p.scores[start:end] {
		if !p.missAnalyzerResults[s.ID] {
			continue
		}
		buttons = append(
			buttons, discordgo.Button{
				Label: fmt.Sprintf("Miss analyzer #%d", start+i+1),
				Style: discordgo.LinkButton,
				URL:   fmt.Sprintf("%s/scores/%d", p.missAnalyzerURL, s.ID),
			},
		)
	}
	for _, row := range chunkItems(discordMaxButtonsPerActionRow, buttons...) {
		rv = append(rv, discordgo.ActionsRow{Components: row})
	}
	return rv
}

func (p *TopScoresPagination) OnComponent(_ context.Context, ev *ComponentEvent) (ComponentOutcome, error) {
	return handlePaginationComponent(ev, p.pages, "Score position"), nil
}

func (p *TopScoresPagination) OnModal(_ context.Context, ev *ModalEvent) error {
	return handlePaginationModal(ev, p.pages)
}
