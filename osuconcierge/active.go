package osuconcierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// ErrTerminal marks errors after which an active message can't continue,
// such as its backing data being permanently gone. Wrap it to close
// the message instead of keeping it alive.
var ErrTerminal = errors.New("active message can no longer be rendered")

// ComponentOutcome is the result of handling a component event
type ComponentOutcome int

const (
	// OutcomeIgnore means the event didn't change anything
	OutcomeIgnore ComponentOutcome = iota
	// OutcomeUpdate means the message should be re-rendered
	OutcomeUpdate
	// OutcomeClose means controls should be removed, and the message
	// no longer tracked
	OutcomeClose
)

func (o ComponentOutcome) String() string {
	switch o {
	case OutcomeIgnore:
		return "ignore"
	case OutcomeUpdate:
		return "update"
	case OutcomeClose:
		return "close"
	default:
		return "unknown"
	}
}

// PageContent is a rendered page.
//
// When Deferred is set, the page is sent as-is first, and Deferred is
// called in the background to produce the final content (typically
// once an [Artifact] resolves). Deferred should return fallback content
// rather than an error when the artifact failed.
type PageContent struct {
	Content  string
	Embeds   []*discordgo.MessageEmbed
	Files    []*discordgo.File
	Deferred func(ctx context.Context) (*PageContent, error)
}

// ActiveMessage is a posted message backed by mutable state, which
// re-interprets component and modal events sent to it.
//
// Implementations are only ever called while holding their registry
// entry's lock, and don't need their own synchronization.
type ActiveMessage interface {
	// RenderPage renders the current page. It may be called repeatedly,
	// and must return the same content when the state hasn't changed.
	RenderPage(ctx context.Context) (*PageContent, error)

	// RenderControls returns the message components for the current state
	RenderControls() []discordgo.MessageComponent

	// OnComponent handles a button click or select menu choice
	OnComponent(ctx context.Context, ev *ComponentEvent) (ComponentOutcome, error)

	// OnModal handles a submitted modal. A nil error re-renders the message.
	OnModal(ctx context.Context, ev *ModalEvent) error
}

// activeMessageCloser is implemented by active messages holding resources
// that should be released when they stop being tracked
type activeMessageCloser interface {
	OnClose()
}

type activeMessageKind interface {
	Kind() string
}

// publicActiveMessage is implemented by active messages whose controls
// may be used by anyone, rather than just the user who created them
type publicActiveMessage interface {
	AnyoneMayInteract() bool
}

func messageKind(m ActiveMessage) string {
	if k, ok := m.(activeMessageKind); ok {
		return k.Kind()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", m), "*osuconcierge.")
}

// ComponentEvent is a button click or select menu choice on an active message
type ComponentEvent struct {
	Key      MessageKey
	UserID   string
	CustomID string
	Values   []string

	Interaction *discordgo.InteractionCreate

	modal *discordgo.InteractionResponse
}

// ShowModal asks the router to respond to the event with the given modal,
// instead of updating the message
func (e *ComponentEvent) ShowModal(resp *discordgo.InteractionResponse) {
	e.modal = resp
}

func newComponentEvent(i *discordgo.InteractionCreate, key MessageKey) *ComponentEvent {
	data := i.MessageComponentData()
	ev := &ComponentEvent{
		Key:         key,
		CustomID:    data.CustomID,
		Values:      data.Values,
		Interaction: i,
	}
	if u := getDiscordUser(i); u != nil {
		ev.UserID = u.ID
	}
	return ev
}

// ModalEvent is a submitted modal on an active message
type ModalEvent struct {
	Key      MessageKey
	UserID   string
	CustomID string

	Interaction *discordgo.InteractionCreate

	inputs map[string]string
}

// Input returns the value of the text input with the given custom ID
func (e *ModalEvent) Input(customID string) (string, bool) {
	v, ok := e.inputs[customID]
	return v, ok
}

func newModalEvent(i *discordgo.InteractionCreate, key MessageKey) *ModalEvent {
	data := i.ModalSubmitData()
	ev := &ModalEvent{
		Key:         key,
		CustomID:    data.CustomID,
		Interaction: i,
		inputs:      map[string]string{},
	}
	for _, input := range getTextInputsFromModal(data) {
		ev.inputs[input.CustomID] = input.Value
	}
	if u := getDiscordUser(i); u != nil {
		ev.UserID = u.ID
	}
	return ev
}

// getTextInputsFromModal returns all text inputs in the submitted modal
func getTextInputsFromModal(
	modalData discordgo.ModalSubmitInteractionData,
) []*discordgo.TextInput {
	var inputs []*discordgo.TextInput
	for _, component := range modalData.Components {
		if component.Type() != discordgo.ActionsRowComponent {
			continue
		}
		actionsRow, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rowComponent := range actionsRow.Components {
			if rowComponent.Type() != discordgo.TextInputComponent {
				continue
			}
			if textInput, ok := rowComponent.(*discordgo.TextInput); ok {
				inputs = append(inputs, textInput)
			}
		}
	}
	return inputs
}

const (
	customIDPagePrefix = "page"

	pageCustomIDFirst    = customIDPagePrefix + ":" + string(NavFirst)
	pageCustomIDPrevious = customIDPagePrefix + ":" + string(NavPrevious)
	pageCustomIDJump     = customIDPagePrefix + ":" + string(NavJump)
	pageCustomIDNext     = customIDPagePrefix + ":" + string(NavNext)
	pageCustomIDLast     = customIDPagePrefix + ":" + string(NavLast)

	pageJumpModalCustomID = "page_jump_modal"
	pageJumpInputCustomID = "page_jump_input"
	itemJumpInputCustomID = "item_jump_input"
)

// paginationControls returns the shared navigation row for the given
// cursor. Buttons that would be no-ops are disabled.
func paginationControls(p *Pages) []discordgo.MessageComponent {
	if p.LastPage() <= 1 {
		return nil
	}
	first := p.OnFirstPage()
	last := p.OnLastPage()
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: pageCustomIDFirst,
					Emoji:    &discordgo.ComponentEmoji{Name: "⏮"},
					Style:    discordgo.SecondaryButton,
					Disabled: first,
				},
				discordgo.Button{
					CustomID: pageCustomIDPrevious,
					Emoji:    &discordgo.ComponentEmoji{Name: "◀"},
					Style:    discordgo.SecondaryButton,
					Disabled: first,
				},
				discordgo.Button{
					CustomID: pageCustomIDJump,
					Emoji:    &discordgo.ComponentEmoji{Name: "*️⃣"},
					Style:    discordgo.SecondaryButton,
				},
				discordgo.Button{
					CustomID: pageCustomIDNext,
					Emoji:    &discordgo.ComponentEmoji{Name: "▶"},
					Style:    discordgo.SecondaryButton,
					Disabled: last,
				},
				discordgo.Button{
					CustomID: pageCustomIDLast,
					Emoji:    &discordgo.ComponentEmoji{Name: "⏭"},
					Style:    discordgo.SecondaryButton,
					Disabled: last,
				},
			},
		},
	}
}

// pageJumpModal returns the "jump to page" modal. When itemLabel is
// set, an extra input allows jumping to the page containing a
// specific position (ex: a leaderboard rank).
func pageJumpModal(p *Pages, itemLabel string) *discordgo.InteractionResponse {
	rows := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    pageJumpInputCustomID,
					Label:       "Page number",
					Style:       discordgo.TextInputShort,
					Placeholder: fmt.Sprintf("Number between 1 and %d", p.LastPage()),
					Required:    itemLabel == "",
					MinLength:   1,
					MaxLength:   len(strconv.Itoa(p.LastPage())),
				},
			},
		},
	}
	if itemLabel != "" {
		rows = append(
			rows, discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    itemJumpInputCustomID,
						Label:       truncate(itemLabel, discordModalInputLabelMaxLength),
						Style:       discordgo.TextInputShort,
						Placeholder: fmt.Sprintf("Number between 1 and %d", p.Total()),
						Required:    false,
						MaxLength:   len(strconv.Itoa(p.Total())),
					},
				},
			},
		)
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   pageJumpModalCustomID,
			Title:      "Jump to a page",
			Components: rows,
		},
	}
}

// handlePaginationComponent applies the shared navigation buttons to the
// cursor. Events for other controls are ignored, so variants can check
// their own controls first or afterward.
func handlePaginationComponent(ev *ComponentEvent, p *Pages, itemLabel string) ComponentOutcome {
	var changed bool
	switch ev.CustomID {
	case pageCustomIDFirst:
		changed = p.First()
	case pageCustomIDPrevious:
		changed = p.Previous()
	case pageCustomIDNext:
		changed = p.Next()
	case pageCustomIDLast:
		changed = p.Last()
	case pageCustomIDJump:
		ev.ShowModal(pageJumpModal(p, itemLabel))
		return OutcomeIgnore
	default:
		return OutcomeIgnore
	}
	if !changed {
		return OutcomeIgnore
	}
	return OutcomeUpdate
}

// handlePaginationModal applies a submitted "jump to page" modal to the
// cursor. A position input takes precedence over the page input.
func handlePaginationModal(ev *ModalEvent, p *Pages) error {
	if ev.CustomID != pageJumpModalCustomID {
		return fmt.Errorf("unexpected modal: %q", ev.CustomID)
	}
	if raw, ok := ev.Input(itemJumpInputCustomID); ok && strings.TrimSpace(raw) != "" {
		position, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return validationErrorf("%q is not a valid number", raw)
		}
		return p.JumpToItem(position)
	}
	raw, _ := ev.Input(pageJumpInputCustomID)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return validationErrorf("Enter a page number")
	}
	page, err := strconv.Atoi(raw)
	if err != nil {
		return validationErrorf("%q is not a valid page number", raw)
	}
	return p.JumpToPage(page)
}

// disableComponents returns a copy of the given components, with all
// buttons and select menus disabled. Link buttons are left as-is.
func disableComponents(components []discordgo.MessageComponent) []discordgo.MessageComponent {
	if len(components) == 0 {
		return []discordgo.MessageComponent{}
	}
	rv := make([]discordgo.MessageComponent, 0, len(components))
	for _, c := range components {
		rv = append(rv, disableComponent(c))
	}
	return rv
}

func disableComponent(c discordgo.MessageComponent) discordgo.MessageComponent {
	switch v := c.(type) {
	case discordgo.ActionsRow:
		return discordgo.ActionsRow{Components: disableComponents(v.Components)}
	case *discordgo.ActionsRow:
		return discordgo.ActionsRow{Components: disableComponents(v.Components)}
	case discordgo.Button:
		if v.Style != discordgo.LinkButton {
			v.Disabled = true
		}
		return v
	case *discordgo.Button:
		b := *v
		if b.Style != discordgo.LinkButton {
			b.Disabled = true
		}
		return b
	case discordgo.SelectMenu:
		v.Disabled = true
		return v
	case *discordgo.SelectMenu:
		m := *v
		m.Disabled = true
		return m
	default:
		return c
	}
}

func (p *PageContent) LogValue() slog.Value {
	if p == nil {
		return slog.AnyValue(nil)
	}
	return slog.GroupValue(
		slog.Int("content_length", len(p.Content)),
		slog.Int("embeds", len(p.Embeds)),
		slog.Int("files", len(p.Files)),
		slog.Bool("deferred", p.Deferred != nil),
	)
}
