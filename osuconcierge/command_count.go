package osuconcierge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const commandCountPerPage = 15

// CommandCountPagination lists the most used commands since the bot
// started counting
type CommandCountPagination struct {
	counts   []CommandUsage
	bootedUp time.Time
	pages    *Pages
}

func NewCommandCountPagination(counts []CommandUsage, bootedUp time.Time) (*CommandCountPagination, error) {
	pages, err := NewPages(commandCountPerPage, len(counts))
	if err != nil {
		return nil, err
	}
	return &CommandCountPagination{counts: counts, bootedUp: bootedUp, pages: pages}, nil
}

func (*CommandCountPagination) Kind() string {
	return "command_count"
}

func (p *CommandCountPagination) RenderPage(context.Context) (*PageContent, error) {
	start, end := p.pages.Window()

	nameWidth := 0
	countWidth := 0
	for _, c := range p.counts[start:end] {
		nameWidth = max(nameWidth, len(c.Command))
		countWidth = max(countWidth, len(formatInt(int(c.Count))))
	}
	idxWidth := len(fmt.Sprint(end))

	var sb strings.Builder
	sb.WriteString("```\n")
	for i, c := range p.counts[start:end] {
		fmt.Fprintf(
			&sb,
			"%*d # %-*s => %*s\n",
			idxWidth, start+i+1,
			nameWidth, c.Command,
			countWidth, formatInt(int(c.Count)),
		)
	}
	if start == end {
		sb.WriteString("No commands used yet\n")
	}
	sb.WriteString("```")

	embed := &discordgo.MessageEmbed{
		Title:       "Most popular commands:",
		Color:       embedColorDefault,
		Description: sb.String(),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%s • Started counting", p.pages.Footer()),
		},
		Timestamp: p.bootedUp.UTC().Format(time.RFC3339),
	}
	return &PageContent{Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func (p *CommandCountPagination) RenderControls() []discordgo.MessageComponent {
	return paginationControls(p.pages)
}

func (p *CommandCountPagination) OnComponent(_ context.Context, ev *ComponentEvent) (ComponentOutcome, error) {
	return handlePaginationComponent(ev, p.pages, ""), nil
}

func (p *CommandCountPagination) OnModal(_ context.Context, ev *ModalEvent) error {
	return handlePaginationModal(ev, p.pages)
}
