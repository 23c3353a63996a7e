package osuconcierge

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const medalsListPerPage = 10

// MedalListOrder is the order of a user's acquired medals
type MedalListOrder string

const (
	MedalListAlphabet MedalListOrder = "alphabet"
	MedalListDate     MedalListOrder = "date"
	MedalListMedalID  MedalListOrder = "medal_id"
	MedalListRarity   MedalListOrder = "rarity"
)

var medalListOrders = []MedalListOrder{MedalListAlphabet, MedalListDate, MedalListMedalID, MedalListRarity}

func (o MedalListOrder) Label() string {
	switch o {
	case MedalListDate:
		return "Date"
	case MedalListMedalID:
		return "Medal ID"
	case MedalListRarity:
		return "Rarity"
	default:
		return "Alphabet"
	}
}

func parseMedalListOrder(s string) MedalListOrder {
	for _, o := range medalListOrders {
		if string(o) == s {
			return o
		}
	}
	return MedalListAlphabet
}

// AcquiredMedal is a medal a user has, and when they got it
type AcquiredMedal struct {
	Medal
	AchievedAt time.Time
}

// MedalListOptions narrows and orders the medals list
type MedalListOptions struct {
	Order   MedalListOrder
	Group   string
	Reverse bool
}

// acquiredMedals joins the user's achievements with the known medals,
// then filters and sorts them. Achievements of unknown medals are
// left out.
func acquiredMedals(user *OsuUser, all []Medal, opts MedalListOptions) []AcquiredMedal {
	byID := make(map[int]Medal, len(all))
	for _, m := range all {
		byID[m.ID] = m
	}
	rv := make([]AcquiredMedal, 0, len(user.UserAchievements))
	for _, a := range user.UserAchievements {
		m, ok := byID[a.AchievementID]
		if !ok {
			continue
		}
		if opts.Group != "" && m.Grouping != opts.Group {
			continue
		}
		rv = append(rv, AcquiredMedal{Medal: m, AchievedAt: a.AchievedAt})
	}

	slices.SortStableFunc(
		rv, func(a, b AcquiredMedal) int {
			switch opts.Order {
			case MedalListDate:
				// most recent first
				return b.AchievedAt.Compare(a.AchievedAt)
			case MedalListMedalID:
				return a.ID - b.ID
			case MedalListRarity:
				switch {
				case a.Rarity < b.Rarity:
					return -1
				case a.Rarity > b.Rarity:
					return 1
				}
				return a.ID - b.ID
			default:
				return strings.Compare(a.Name, b.Name)
			}
		},
	)
	if opts.Reverse {
		slices.Reverse(rv)
	}
	return rv
}

// MedalsListPagination lists the medals a user has acquired
type MedalsListPagination struct {
	user     *OsuUser
	medals   []AcquiredMedal
	acquired int
	total    int
	content  string
	pages    *Pages
}

func NewMedalsListPagination(user *OsuUser, all []Medal, opts MedalListOptions) (*MedalsListPagination, error) {
	medals := acquiredMedals(user, all, opts)
	pages, err := NewPages(medalsListPerPage, len(medals))
	if err != nil {
		return nil, err
	}

	order := strings.ToLower(opts.Order.Label())
	if opts.Reverse {
		order = "reversed " + order
	}
	content := fmt.Sprintf("All medals of `%s` sorted by %s:", user.Username, order)
	if opts.Group != "" {
		content = fmt.Sprintf("All `%s` medals of `%s` sorted by %s:", opts.Group, user.Username, order)
	}

	return &MedalsListPagination{
		user:     user,
		medals:   medals,
		acquired: len(user.UserAchievements),
		total:    len(all),
		content:  content,
		pages:    pages,
	}, nil
}

func (*MedalsListPagination) Kind() string {
	return "medals_list"
}

func (p *MedalsListPagination) RenderPage(context.Context) (*PageContent, error) {
	start, end := p.pages.Window()

	var sb strings.Builder
	for i, m := range p.medals[start:end] {
		fmt.Fprintf(
			&sb,
			"**#%d [%s](%s/medals/?medal=%s)**\n`%s` • %s • %s%%\n",
			start+i+1,
			m.Name,
			DefaultOsekaiBaseURL,
			url.QueryEscape(m.Name),
			m.Grouping,
			discordTimestamp(m.AchievedAt, "d"),
			formatFloat(m.Rarity, 2),
		)
	}
	if len(p.medals) == 0 {
		sb.WriteString("No medals found")
	}

	embed := &discordgo.MessageEmbed{
		Color:       embedColorDefault,
		Author:      osuUserAuthor(p.user, GameModeOsu),
		Thumbnail:   osuUserThumbnail(p.user),
		Description: strings.TrimSuffix(sb.String(), "\n"),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"%s | Acquired %d/%d medals",
				p.pages.Footer(), p.acquired, p.total,
			),
		},
	}
	return &PageContent{Content: p.content, Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func (p *MedalsListPagination) RenderControls() []discordgo.MessageComponent {
	return paginationControls(p.pages)
}

func (p *MedalsListPagination) OnComponent(_ context.Context, ev *ComponentEvent) (ComponentOutcome, error) {
	return handlePaginationComponent(ev, p.pages, "Medal position"), nil
}

func (p *MedalsListPagination) OnModal(_ context.Context, ev *ModalEvent) error {
	return handlePaginationModal(ev, p.pages)
}
