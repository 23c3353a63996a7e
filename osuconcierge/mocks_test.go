package osuconcierge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func testLogger(t testing.TB) *slog.Logger {
	t.Helper()
	lvl := &slog.LevelVar{}
	lvl.Set(slog.LevelDebug)
	if testing.Verbose() {
		return slog.New(newLogHandler(&testWriter{t: t}, lvl)).With("test_name", t.Name())
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testWriter struct {
	t testing.TB
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// mockDiscordSession records message sends and edits. Methods not
// overridden panic via the nil embedded interface.
type mockDiscordSession struct {
	DiscordSessionHandler

	mu        sync.Mutex
	nextID    int
	sent      []*discordgo.MessageSend
	edits     []*discordgo.MessageEdit
	responses []*discordgo.InteractionResponse
	editErr   error
	commands  []*discordgo.ApplicationCommand
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{nextID: 1000}
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, data)
	return &discordgo.Message{
		ID:        strconv.Itoa(m.nextID),
		ChannelID: channelID,
		Content:   data.Content,
		Embeds:    data.Embeds,
	}, nil
}

func (m *mockDiscordSession) ChannelMessageEditComplex(
	edit *discordgo.MessageEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return nil, m.editErr
	}
	m.edits = append(m.edits, edit)
	return &discordgo.Message{ID: edit.ID, ChannelID: edit.Channel}, nil
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	i *discordgo.Interaction,
	_ *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{ID: "response-" + i.ID, ChannelID: i.ChannelID}, nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = commands
	return commands, nil
}

func (m *mockDiscordSession) Edits() []*discordgo.MessageEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.MessageEdit(nil), m.edits...)
}

// recordingHandler is an [InteractionHandler] keeping every response
// and edit
type recordingHandler struct {
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	method      DiscordInteractionReceiveMethod

	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	message   *discordgo.Message
}

func newRecordingHandler(t testing.TB, i *discordgo.InteractionCreate) *recordingHandler {
	return &recordingHandler{
		interaction: i,
		logger:      testLogger(t),
		method:      discordInteractionReceiveMethodGateway,
		message:     &discordgo.Message{ID: "msg-" + i.ID, ChannelID: i.ChannelID},
	}
}

func (h *recordingHandler) Respond(_ context.Context, resp *discordgo.InteractionResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, resp)
	return nil
}

func (h *recordingHandler) GetResponse(context.Context) (*discordgo.Message, error) {
	return h.message, nil
}

func (h *recordingHandler) Edit(
	_ context.Context,
	e *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.edits = append(h.edits, e)
	return h.message, nil
}

func (h *recordingHandler) Delete(context.Context, ...discordgo.RequestOption) {}

func (h *recordingHandler) GetInteraction() *discordgo.InteractionCreate {
	return h.interaction
}

func (h *recordingHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return h.method
}

func (h *recordingHandler) Logger() *slog.Logger {
	return h.logger
}

func (h *recordingHandler) lastResponse() *discordgo.InteractionResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.responses) == 0 {
		return nil
	}
	return h.responses[len(h.responses)-1]
}

var interactionCounter atomic.Int64

func newInteractionID() string {
	return fmt.Sprintf("interaction-%d", interactionCounter.Add(1))
}

// componentInteraction is a button click by userID on the given message
func componentInteraction(key MessageKey, userID string, customID string, values ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        newInteractionID(),
			Type:      discordgo.InteractionMessageComponent,
			ChannelID: key.ChannelID,
			GuildID:   "guild",
			Message:   &discordgo.Message{ID: key.MessageID, ChannelID: key.ChannelID},
			Member:    &discordgo.Member{User: &discordgo.User{ID: userID, Username: userID}},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.ButtonComponent,
				Values:        values,
			},
		},
	}
}

// modalInteraction is a submitted modal with the given text inputs
func modalInteraction(
	key MessageKey,
	userID string,
	customID string,
	inputs map[string]string,
) *discordgo.InteractionCreate {
	rows := make([]discordgo.MessageComponent, 0, len(inputs))
	for id, value := range inputs {
		rows = append(
			rows, &discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: id, Value: value},
				},
			},
		)
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        newInteractionID(),
			Type:      discordgo.InteractionModalSubmit,
			ChannelID: key.ChannelID,
			Message:   &discordgo.Message{ID: key.MessageID, ChannelID: key.ChannelID},
			Member:    &discordgo.Member{User: &discordgo.User{ID: userID, Username: userID}},
			Data: discordgo.ModalSubmitInteractionData{
				CustomID:   customID,
				Components: rows,
			},
		},
	}
}

func commandInteraction(userID string, name string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        newInteractionID(),
			Type:      discordgo.InteractionApplicationCommand,
			ChannelID: "channel",
			GuildID:   "guild",
			Member:    &discordgo.Member{User: &discordgo.User{ID: userID, Username: userID}},
			Data:      discordgo.ApplicationCommandInteractionData{Name: name},
		},
	}
}

// listMessage is a minimal paginated active message over a list of
// strings. deferredPages maps a page to a channel its deferred content
// waits on.
type listMessage struct {
	items  []string
	pages  *Pages
	public bool

	deferredPages map[int]chan struct{}
	// attached to every page after the first
	files         []*discordgo.File
	renderErr     error
	componentErr  error

	closed atomic.Int32
}

func newListMessage(t testing.TB, perPage int, n int) *listMessage {
	t.Helper()
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("item %d", i+1)
	}
	p, err := NewPages(perPage, n)
	if err != nil {
		t.Fatalf("error creating pages: %v", err)
	}
	return &listMessage{items: items, pages: p}
}

func (m *listMessage) Kind() string {
	return "test_list"
}

func (m *listMessage) AnyoneMayInteract() bool {
	return m.public
}

func (m *listMessage) RenderPage(context.Context) (*PageContent, error) {
	if m.renderErr != nil {
		return nil, m.renderErr
	}
	start, end := m.pages.Window()
	page := m.pages.CurrentPage()
	content := fmt.Sprintf("%s\n%s", strings.Join(m.items[start:end], "\n"), m.pages.Footer())
	pc := &PageContent{Content: content}
	if page > 1 {
		pc.Files = m.files
	}
	if wait, ok := m.deferredPages[page]; ok {
		pc.Deferred = func(ctx context.Context) (*PageContent, error) {
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &PageContent{Content: fmt.Sprintf("final page %d", page)}, nil
		}
	}
	return pc, nil
}

func (m *listMessage) RenderControls() []discordgo.MessageComponent {
	return paginationControls(m.pages)
}

func (m *listMessage) OnComponent(_ context.Context, ev *ComponentEvent) (ComponentOutcome, error) {
	if m.componentErr != nil {
		return OutcomeIgnore, m.componentErr
	}
	if ev.CustomID == "close" {
		return OutcomeClose, nil
	}
	return handlePaginationComponent(ev, m.pages, ""), nil
}

func (m *listMessage) OnModal(_ context.Context, ev *ModalEvent) error {
	return handlePaginationModal(ev, m.pages)
}

func (m *listMessage) OnClose() {
	m.closed.Add(1)
}

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// fakeOsuAPI serves users and scores from memory
type fakeOsuAPI struct {
	mu         sync.Mutex
	users      map[int]*OsuUser
	scores     map[int][]OsuScore
	medals     []Medal
	medalCount []OsekaiRankingEntry
	// performance ranking pages, by page number
	ranking    map[int][]OsuUser
	failUsers  map[int]error
	missChecks map[int64]bool
	calls      int
}

func newFakeOsuAPI(users ...*OsuUser) *fakeOsuAPI {
	f := &fakeOsuAPI{
		users:      map[int]*OsuUser{},
		scores:     map[int][]OsuScore{},
		ranking:    map[int][]OsuUser{},
		failUsers:  map[int]error{},
		missChecks: map[int64]bool{},
	}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeOsuAPI) User(_ context.Context, name string, _ GameMode) (*OsuUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, u := range f.users {
		if strings.EqualFold(u.Username, name) {
			return u, nil
		}
	}
	return nil, ErrOsuNotFound
}

func (f *fakeOsuAPI) UserByID(_ context.Context, id int, _ GameMode) (*OsuUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failUsers[id]; err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, ErrOsuNotFound
	}
	return u, nil
}

func (f *fakeOsuAPI) TopScores(_ context.Context, userID int, _ GameMode) ([]OsuScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.scores[userID], nil
}

func (f *fakeOsuAPI) Medals(context.Context) ([]Medal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.medals, nil
}

func (f *fakeOsuAPI) PerformanceRanking(_ context.Context, _ GameMode, page int) ([]OsuUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.ranking[page], nil
}

func (f *fakeOsuAPI) MedalCountRanking(context.Context) ([]OsekaiRankingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.medalCount, nil
}

func (f *fakeOsuAPI) MissAnalyzerCheck(_ context.Context, _ string, scoreID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.missChecks[scoreID], nil
}

func intPtr(n int) *int {
	return &n
}
