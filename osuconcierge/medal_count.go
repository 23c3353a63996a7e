package osuconcierge

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	medalCountPerPage        = 10
	medalCountAuthorCustomID = "medal_count:author"
)

// filterMedalCountRanking keeps the entries of the given country, matched
// by either its code or its name. ok is false when country is neither a
// code nor the name of any country on the ranking.
func filterMedalCountRanking(ranking []OsekaiRankingEntry, country string) (rv []OsekaiRankingEntry, ok bool) {
	country = strings.TrimSpace(country)
	if country == "" {
		return ranking, true
	}
	for _, e := range ranking {
		if strings.EqualFold(e.CountryCode, country) || strings.EqualFold(e.Country, country) {
			rv = append(rv, e)
		}
	}
	if len(rv) == 0 && len(country) != 2 {
		return nil, false
	}
	return rv, true
}

// MedalCountPagination is osekai's ranking of users by medal count. When
// the invoking user is linked to a ranked account, their line is bold
// and a button jumps to it.
type MedalCountPagination struct {
	ranking   []OsekaiRankingEntry
	country   string
	authorIdx int
	pages     *Pages
}

// NewMedalCountPagination starts on the first page. authorName is the
// invoking user's linked osu! username, if any. country is the filter
// applied to ranking, shown in the title.
func NewMedalCountPagination(
	ranking []OsekaiRankingEntry,
	country string,
	authorName string,
) (*MedalCountPagination, error) {
	pages, err := NewPages(medalCountPerPage, len(ranking))
	if err != nil {
		return nil, err
	}
	country = strings.TrimSpace(country)
	if country != "" && len(ranking) > 0 {
		country = ranking[0].CountryCode
	}
	p := &MedalCountPagination{
		ranking:   ranking,
		country:   strings.ToUpper(country),
		authorIdx: -1,
		pages:     pages,
	}
	if authorName != "" {
		for i, e := range ranking {
			if strings.EqualFold(e.Username, authorName) {
				p.authorIdx = i
				break
			}
		}
	}
	return p, nil
}

func (*MedalCountPagination) Kind() string {
	return "medal_count"
}

func (p *MedalCountPagination) RenderPage(context.Context) (*PageContent, error) {
	start, end := p.pages.Window()

	var sb strings.Builder
	for i, e := range p.ranking[start:end] {
		idx := start + i
		line := fmt.Sprintf(
			"#%d :flag_%s: [%s](%s/users/%d): `%s` (%s%%)",
			idx+1,
			strings.ToLower(e.CountryCode),
			e.Username,
			DefaultOsuBaseURL,
			int(e.UserID),
			formatInt(int(e.MedalCount)),
			formatFloat(float64(e.Completion), 2),
		)
		if idx == p.authorIdx {
			line = "**" + line + "**"
		}
		sb.WriteString(line)
		if e.RarestMedal != "" {
			fmt.Fprintf(&sb, " ▸ %s", e.RarestMedal)
		}
		sb.WriteByte('\n')
	}
	if len(p.ranking) == 0 {
		sb.WriteString("No users found")
	}

	title := "Medal count ranking"
	if p.country != "" {
		title += fmt.Sprintf(" (%s)", p.country)
	}
	footer := p.pages.Footer()
	if p.authorIdx >= 0 {
		footer += fmt.Sprintf(" • Your position: %d/%d", p.authorIdx+1, len(p.ranking))
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		URL:         DefaultOsekaiBaseURL + "/rankings/?ranking=Medals&type=Users",
		Color:       embedColorDefault,
		Description: strings.TrimSuffix(sb.String(), "\n"),
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
	}
	return &PageContent{Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func (p *MedalCountPagination) RenderControls() []discordgo.MessageComponent {
	rv := paginationControls(p.pages)
	if p.authorIdx < 0 || len(rv) == 0 {
		return rv
	}
	return append(
		rv, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: medalCountAuthorCustomID,
					Label:    "Find me",
					Emoji:    &discordgo.ComponentEmoji{Name: "🔍"},
					Style:    discordgo.PrimaryButton,
				},
			},
		},
	)
}

func (p *MedalCountPagination) OnComponent(_ context.Context, ev *ComponentEvent) (ComponentOutcome, error) {
	if ev.CustomID != medalCountAuthorCustomID {
		return handlePaginationComponent(ev, p.pages, "Ranking position"), nil
	}
	if p.authorIdx < 0 {
		return OutcomeIgnore, nil
	}
	before := p.pages.Index()
	if err := p.pages.JumpToItem(p.authorIdx + 1); err != nil {
		return OutcomeIgnore, err
	}
	if p.pages.Index() == before {
		return OutcomeIgnore, nil
	}
	return OutcomeUpdate, nil
}

func (p *MedalCountPagination) OnModal(_ context.Context, ev *ModalEvent) error {
	return handlePaginationModal(ev, p.pages)
}
