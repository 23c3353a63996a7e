package osuconcierge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	serverLeaderboardPerPage = 20

	// maximum concurrent osu! lookups when building a leaderboard
	serverLeaderboardFetchLimit = 5
)

// LeaderboardKind is the statistic a server leaderboard ranks by
type LeaderboardKind string

const (
	LeaderboardPP        LeaderboardKind = "pp"
	LeaderboardRank      LeaderboardKind = "rank"
	LeaderboardMedals    LeaderboardKind = "medals"
	LeaderboardPlaycount LeaderboardKind = "playcount"
)

var leaderboardKinds = []LeaderboardKind{
	LeaderboardPP,
	LeaderboardRank,
	LeaderboardMedals,
	LeaderboardPlaycount,
}

func (k LeaderboardKind) Label() string {
	switch k {
	case LeaderboardRank:
		return "Global rank"
	case LeaderboardMedals:
		return "Medals"
	case LeaderboardPlaycount:
		return "Playcount"
	default:
		return "Performance points"
	}
}

func parseLeaderboardKind(s string) LeaderboardKind {
	for _, k := range leaderboardKinds {
		if string(k) == s {
			return k
		}
	}
	return LeaderboardPP
}

// LeaderboardEntry is a linked guild member's ranked value
type LeaderboardEntry struct {
	DiscordUserID string
	OsuUserID     int
	Username      string
	value         float64
	display       string
}

// leaderboardEntries ranks the given members by kind. Members without
// a value for kind (ex: unranked players on a rank leaderboard) are
// left out.
func leaderboardEntries(kind LeaderboardKind, members map[string]*OsuUser) []LeaderboardEntry {
	rv := make([]LeaderboardEntry, 0, len(members))
	for discordUserID, u := range members {
		e := LeaderboardEntry{
			DiscordUserID: discordUserID,
			OsuUserID:     u.ID,
			Username:      u.Username,
		}
		switch kind {
		case LeaderboardRank:
			if u.Statistics.GlobalRank == nil || *u.Statistics.GlobalRank <= 0 {
				continue
			}
			e.value = float64(*u.Statistics.GlobalRank)
			e.display = "#" + formatInt(*u.Statistics.GlobalRank)
		case LeaderboardMedals:
			e.value = float64(len(u.UserAchievements))
			e.display = formatInt(len(u.UserAchievements))
		case LeaderboardPlaycount:
			e.value = float64(u.Statistics.PlayCount)
			e.display = formatInt(u.Statistics.PlayCount)
		default:
			e.value = u.Statistics.PP
			e.display = formatFloat(u.Statistics.PP, 2) + "pp"
		}
		rv = append(rv, e)
	}

	ascending := kind == LeaderboardRank
	slices.SortFunc(
		rv, func(a, b LeaderboardEntry) int {
			if a.value != b.value {
				if (a.value < b.value) == ascending {
					return -1
				}
				return 1
			}
			return strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username))
		},
	)
	return rv
}

// fetchLeaderboardMembers looks up the osu! user of each link. Members
// that fail to load are logged and skipped.
func fetchLeaderboardMembers(
	ctx context.Context,
	api OsuAPI,
	links []UserLink,
	mode GameMode,
	logger *slog.Logger,
) (map[string]*OsuUser, error) {
	results := make([]*OsuUser, len(links))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(serverLeaderboardFetchLimit)
	for i, link := range links {
		eg.Go(
			func() error {
				u, err := api.UserByID(egCtx, link.OsuUserID, mode)
				if err != nil {
					if egCtx.Err() != nil {
						return egCtx.Err()
					}
					logger.WarnContext(
						ctx, "skipping leaderboard member",
						"osu_user_id", link.OsuUserID,
						tint.Err(err),
					)
					return nil
				}
				results[i] = u
				return nil
			},
		)
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	rv := make(map[string]*OsuUser, len(links))
	for i, u := range results {
		if u != nil {
			rv[links[i].DiscordUserID] = u
		}
	}
	return rv, nil
}

// ServerLeaderboardPagination ranks a guild's linked members. Anyone in
// the channel may page through it.
type ServerLeaderboardPagination struct {
	kind      LeaderboardKind
	mode      GameMode
	entries   []LeaderboardEntry
	authorIdx int
	pages     *Pages
}

// NewServerLeaderboardPagination starts on the page holding the author,
// if they're on the leaderboard
func NewServerLeaderboardPagination(
	kind LeaderboardKind,
	mode GameMode,
	entries []LeaderboardEntry,
	authorID string,
) (*ServerLeaderboardPagination, error) {
	pages, err := NewPages(serverLeaderboardPerPage, len(entries))
	if err != nil {
		return nil, err
	}
	p := &ServerLeaderboardPagination{
		kind:      kind,
		mode:      mode,
		entries:   entries,
		authorIdx: -1,
		pages:     pages,
	}
	for i, e := range entries {
		if e.DiscordUserID == authorID {
			p.authorIdx = i
			break
		}
	}
	if p.authorIdx >= 0 {
		if err = pages.JumpToItem(p.authorIdx + 1); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (*ServerLeaderboardPagination) Kind() string {
	return "server_leaderboard"
}

func (*ServerLeaderboardPagination) AnyoneMayInteract() bool {
	return true
}

func (p *ServerLeaderboardPagination) RenderPage(context.Context) (*PageContent, error) {
	start, end := p.pages.Window()

	var sb strings.Builder
	for i, e := range p.entries[start:end] {
		idx := start + i
		format := "**#%d** [%s](%s/users/%d/%s): %s"
		if idx == p.authorIdx {
			// the invoking user's whole line is bold
			format = "**#%d [%s](%s/users/%d/%s): %s**"
		}
		sb.WriteString(
			fmt.Sprintf(format, idx+1, e.Username, DefaultOsuBaseURL, e.OsuUserID, p.mode, e.display),
		)
		sb.WriteByte('\n')
	}
	if len(p.entries) == 0 {
		sb.WriteString("No linked members found. Use `/link` to link your osu! account.")
	}

	title := fmt.Sprintf("Server leaderboard: %s (%s)", p.kind.Label(), p.mode)
	footer := p.pages.Footer()
	if p.authorIdx >= 0 {
		footer += fmt.Sprintf(" • Your position: %d/%d", p.authorIdx+1, len(p.entries))
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Color:       embedColorDefault,
		Description: strings.TrimSuffix(sb.String(), "\n"),
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
	}
	return &PageContent{Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func (p *ServerLeaderboardPagination) RenderControls() []discordgo.MessageComponent {
	return paginationControls(p.pages)
}

func (p *ServerLeaderboardPagination) OnComponent(_ context.Context, ev *ComponentEvent) (ComponentOutcome, error) {
	return handlePaginationComponent(ev, p.pages, "Leaderboard position"), nil
}

func (p *ServerLeaderboardPagination) OnModal(_ context.Context, ev *ModalEvent) error {
	return handlePaginationModal(ev, p.pages)
}
