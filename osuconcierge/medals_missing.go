package osuconcierge

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	medalsMissingPerPage   = 15
	medalsSortMenuCustomID = "medals_missing:sort"
)

// MedalSortOrder is the order of medals within each medal group
type MedalSortOrder string

const (
	MedalSortMedalID  MedalSortOrder = "medal_id"
	MedalSortAlphabet MedalSortOrder = "alphabet"
	MedalSortRarity   MedalSortOrder = "rarity"
)

var medalSortOrders = []MedalSortOrder{MedalSortMedalID, MedalSortAlphabet, MedalSortRarity}

func (o MedalSortOrder) Label() string {
	switch o {
	case MedalSortAlphabet:
		return "Alphabetically"
	case MedalSortRarity:
		return "Rarity"
	default:
		return "Medal ID"
	}
}

func parseMedalSortOrder(s string) MedalSortOrder {
	for _, o := range medalSortOrders {
		if string(o) == s {
			return o
		}
	}
	return MedalSortMedalID
}

// medalGroups is the display order of osekai medal groupings. Unknown
// groupings are listed after these, alphabetically.
var medalGroups = []string{
	"Skill",
	"Dedication",
	"Hush-Hush",
	"Beatmap Packs",
	"Beatmap Challenge Packs",
	"Seasonal Spotlights",
	"Beatmap Spotlights",
	"Mod Introduction",
}

// missingMedalEntry is a line of the missing medals list: either a
// group header, or a medal
type missingMedalEntry struct {
	Group string
	Medal *Medal
}

// MedalsMissingPagination lists the medals a user doesn't have yet,
// grouped by medal group
type MedalsMissingPagination struct {
	user    *OsuUser
	missing []Medal
	entries []missingMedalEntry
	total   int
	sort    MedalSortOrder
	pages   *Pages
}

// NewMedalsMissingPagination builds the list of medals missing from the
// user's achievements, out of all known medals
func NewMedalsMissingPagination(
	user *OsuUser,
	all []Medal,
	sort MedalSortOrder,
) (*MedalsMissingPagination, error) {
	owned := make(map[int]struct{}, len(user.UserAchievements))
	for _, a := range user.UserAchievements {
		owned[a.AchievementID] = struct{}{}
	}
	missing := make([]Medal, 0, len(all))
	for _, m := range all {
		if _, ok := owned[m.ID]; !ok {
			missing = append(missing, m)
		}
	}

	p := &MedalsMissingPagination{
		user:    user,
		missing: missing,
		total:   len(all),
		sort:    sort,
	}
	p.entries = missingMedalEntries(missing, sort)
	pages, err := NewPages(medalsMissingPerPage, len(p.entries))
	if err != nil {
		return nil, err
	}
	p.pages = pages
	return p, nil
}

func (*MedalsMissingPagination) Kind() string {
	return "medals_missing"
}

// missingMedalEntries returns each medal group header, followed by the
// group's missing medals in the given order
func missingMedalEntries(missing []Medal, sort MedalSortOrder) []missingMedalEntry {
	byGroup := map[string][]Medal{}
	for _, m := range missing {
		byGroup[m.Grouping] = append(byGroup[m.Grouping], m)
	}

	groups := slices.Clone(medalGroups)
	var extra []string
	for g := range byGroup {
		if !slices.Contains(medalGroups, g) {
			extra = append(extra, g)
		}
	}
	slices.Sort(extra)
	groups = append(groups, extra...)

	rv := make([]missingMedalEntry, 0, len(missing)+len(groups))
	for _, g := range groups {
		rv = append(rv, missingMedalEntry{Group: g})
		medals := byGroup[g]
		sortMedals(medals, sort)
		for i := range medals {
			rv = append(rv, missingMedalEntry{Medal: &medals[i]})
		}
	}
	return rv
}

func sortMedals(medals []Medal, sort MedalSortOrder) {
	slices.SortStableFunc(
		medals, func(a, b Medal) int {
			switch sort {
			case MedalSortAlphabet:
				return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
			case MedalSortRarity:
				// rarest first
				switch {
				case a.Rarity < b.Rarity:
					return -1
				case a.Rarity > b.Rarity:
					return 1
				}
				return a.ID - b.ID
			default:
				return a.ID - b.ID
			}
		},
	)
}

func (p *MedalsMissingPagination) medalHover(m *Medal) string {
	if p.sort == MedalSortMedalID {
		return fmt.Sprintf("Medal ID: %d", m.ID)
	}
	return fmt.Sprintf("Rarity: %.2f%%", m.Rarity)
}

func (p *MedalsMissingPagination) medalURL(m *Medal) string {
	return fmt.Sprintf("%s/medals/?medal=%s", DefaultOsekaiBaseURL, url.QueryEscape(m.Name))
}

func (p *MedalsMissingPagination) RenderPage(context.Context) (*PageContent, error) {
	start, end := p.pages.Window()
	page := p.entries[start:end]
	includesLast := end == len(p.entries)

	var sb strings.Builder
	for i, e := range page {
		if e.Medal == nil {
			fmt.Fprintf(&sb, "__**%s:**__\n", e.Group)
			nextIsGroup := i+1 < len(page) && page[i+1].Medal == nil
			if nextIsGroup || (i == len(page)-1 && includesLast) {
				sb.WriteString("All medals acquired\n")
			}
			continue
		}
		fmt.Fprintf(&sb, "- [%s](%s \"%s\")\n", e.Medal.Name, p.medalURL(e.Medal), p.medalHover(e.Medal))
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Missing medals",
		Color:       embedColorDefault,
		Author:      osuUserAuthor(p.user, GameModeOsu),
		Thumbnail:   osuUserThumbnail(p.user),
		Description: strings.TrimSuffix(sb.String(), "\n"),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"%s | Missing %d/%d medals",
				p.pages.Footer(), len(p.missing), p.total,
			),
		},
	}
	return &PageContent{Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func (p *MedalsMissingPagination) RenderControls() []discordgo.MessageComponent {
	options := make([]discordgo.SelectMenuOption, 0, len(medalSortOrders))
	for _, o := range medalSortOrders {
		options = append(
			options, discordgo.SelectMenuOption{
				Label:   o.Label(),
				Value:   string(o),
				Default: o == p.sort,
			},
		)
	}
	rv := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    medalsSortMenuCustomID,
					Placeholder: "Sort order",
					Options:     options,
				},
			},
		},
	}
	return append(rv, paginationControls(p.pages)...)
}

func (p *MedalsMissingPagination) OnComponent(_ context.Context, ev *ComponentEvent) (ComponentOutcome, error) {
	if ev.CustomID != medalsSortMenuCustomID {
		return handlePaginationComponent(ev, p.pages, ""), nil
	}
	if len(ev.Values) == 0 {
		return OutcomeIgnore, nil
	}
	sort := parseMedalSortOrder(ev.Values[0])
	if sort == p.sort {
		return OutcomeIgnore, nil
	}
	p.sort = sort
	p.entries = missingMedalEntries(p.missing, sort)
	p.pages.First()
	return OutcomeUpdate, nil
}

func (p *MedalsMissingPagination) OnModal(_ context.Context, ev *ModalEvent) error {
	return handlePaginationModal(ev, p.pages)
}
