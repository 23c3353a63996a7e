package osuconcierge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	rankGraphFilename       = "rank_graph.png"
	rankGraphDaysPrefix     = "rank_graph:days:"
	rankGraphRenderingTitle = "Rendering graph..."
)

var rankGraphRanges = []int{30, 60, 90}

// rankGraphRenderer renders a user's rank history over the given number
// of days as a PNG
type rankGraphRenderer func(ctx context.Context, days int) ([]byte, error)

// RankGraphMessage shows a user's rank history as an image, rendered in
// the background. Range buttons switch between 30, 60 and 90 days.
type RankGraphMessage struct {
	user    *OsuUser
	mode    GameMode
	history []int
	days    int
	render  rankGraphRenderer
	logger  *slog.Logger

	// one artifact per range, so switching back doesn't re-render
	graphs map[int]*Artifact[[]byte]
	// canceled by OnClose, stopping renders nobody will see
	renderCtx    context.Context
	cancelRender context.CancelFunc
}

func NewRankGraphMessage(
	user *OsuUser,
	mode GameMode,
	days int,
	render rankGraphRenderer,
	logger *slog.Logger,
) *RankGraphMessage {
	if logger == nil {
		logger = slog.Default()
	}
	var history []int
	if user.RankHistory != nil {
		history = user.RankHistory.Data
	}
	if !validRankGraphRange(days) {
		days = rankGraphRanges[len(rankGraphRanges)-1]
	}
	return &RankGraphMessage{
		user:    user,
		mode:    mode,
		history: history,
		days:    days,
		render:  render,
		logger:  logger,
		graphs:  map[int]*Artifact[[]byte]{},
	}
}

func validRankGraphRange(days int) bool {
	for _, d := range rankGraphRanges {
		if d == days {
			return true
		}
	}
	return false
}

func (*RankGraphMessage) Kind() string {
	return "rank_graph"
}

// artifact returns the graph for the current range, starting the render
// if it hasn't been started yet
func (m *RankGraphMessage) artifact(ctx context.Context) *Artifact[[]byte] {
	if a, ok := m.graphs[m.days]; ok {
		return a
	}
	if m.renderCtx == nil {
		m.renderCtx, m.cancelRender = context.WithCancel(context.WithoutCancel(ctx))
	}
	days := m.days
	render := m.render
	a := ProduceArtifact(
		m.renderCtx, m.logger,
		func(ctx context.Context) ([]byte, error) {
			return render(ctx, days)
		},
	)
	m.graphs[days] = a
	return a
}

func (m *RankGraphMessage) baseEmbed(days int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Rank history (last %d days)", days),
		Color:     embedColorDefault,
		Author:    osuUserAuthor(m.user, m.mode),
		Thumbnail: osuUserThumbnail(m.user),
	}
}

// graphPage is the final page for a rendered graph
func (m *RankGraphMessage) graphPage(days int, png []byte) *PageContent {
	embed := m.baseEmbed(days)
	embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + rankGraphFilename}
	return &PageContent{
		Embeds: []*discordgo.MessageEmbed{embed},
		Files: []*discordgo.File{
			{
				Name:        rankGraphFilename,
				ContentType: "image/png",
				Reader:      bytes.NewReader(png),
			},
		},
	}
}

// fallbackPage summarizes the rank history as text, for when the graph
// couldn't be rendered
func (m *RankGraphMessage) fallbackPage(days int, history []int) *PageContent {
	embed := m.baseEmbed(days)
	embed.Color = embedColorError
	points := rankPoints(history, days)
	if len(points) == 0 {
		embed.Description = "No rank history available"
		return &PageContent{Embeds: []*discordgo.MessageEmbed{embed}}
	}
	best, worst := rankBounds(points)
	current := points[len(points)-1].Rank
	embed.Description = fmt.Sprintf(
		"Couldn't render the graph\n"+
			"Current rank: **#%s**\nPeak: **#%s**\nLowest: **#%s**",
		formatInt(current), formatInt(best), formatInt(worst),
	)
	return &PageContent{Embeds: []*discordgo.MessageEmbed{embed}}
}

func (m *RankGraphMessage) RenderPage(ctx context.Context) (*PageContent, error) {
	if len(rankPoints(m.history, m.days)) == 0 {
		return m.fallbackPage(m.days, m.history), nil
	}

	a := m.artifact(ctx)
	days := m.days
	history := m.history
	if png, ready, err := a.Peek(); ready {
		if err != nil {
			return m.fallbackPage(days, history), nil
		}
		return m.graphPage(days, png), nil
	}

	embed := m.baseEmbed(days)
	embed.Description = rankGraphRenderingTitle
	return &PageContent{
		Embeds: []*discordgo.MessageEmbed{embed},
		Deferred: func(ctx context.Context) (*PageContent, error) {
			png, err := a.Wait(ctx)
			if err != nil {
				m.logger.WarnContext(ctx, "rank graph failed, using fallback", "days", days, tint.Err(err))
				return m.fallbackPage(days, history), nil
			}
			return m.graphPage(days, png), nil
		},
	}, nil
}

func (m *RankGraphMessage) RenderControls() []discordgo.MessageComponent {
	buttons := make([]discordgo.MessageComponent, 0, len(rankGraphRanges))
	for _, d := range rankGraphRanges {
		style := discordgo.SecondaryButton
		if d == m.days {
			style = discordgo.PrimaryButton
		}
		buttons = append(
			buttons, discordgo.Button{
				Label:    fmt.Sprintf("%d days", d),
				CustomID: rankGraphDaysPrefix + strconv.Itoa(d),
				Style:    style,
				Disabled: d == m.days,
			},
		)
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

func (m *RankGraphMessage) OnComponent(_ context.Context, ev *ComponentEvent) (ComponentOutcome, error) {
	raw, ok := strings.CutPrefix(ev.CustomID, rankGraphDaysPrefix)
	if !ok {
		return OutcomeIgnore, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || !validRankGraphRange(days) {
		return OutcomeIgnore, validationErrorf("Unknown range: %q", raw)
	}
	if days == m.days {
		return OutcomeIgnore, nil
	}
	m.days = days
	return OutcomeUpdate, nil
}

func (*RankGraphMessage) OnModal(context.Context, *ModalEvent) error {
	return validationErrorf("This message doesn't accept input")
}

func (m *RankGraphMessage) OnClose() {
	if m.cancelRender != nil {
		m.cancelRender()
	}
}
