package osuconcierge

import (
	"bytes"
	"context"
	"image/png"
	"log/slog"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{input: "hello", n: 10, want: "hello"},
		{input: "hello", n: 5, want: "hello"},
		{input: "hello", n: 3, want: "hel"},
		{input: "ñandú", n: 2, want: "ña"},
		{input: "", n: 0, want: ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, truncate(tc.input, tc.n), tc.input)
	}
}

func TestChunkItems(t *testing.T) {
	assert.Nil(t, chunkItems[int](5))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunkItems(2, 1, 2, 3, 4, 5))
	assert.Equal(t, [][]string{{"a", "b"}}, chunkItems(5, "a", "b"))
}

func TestStructToSlogValue(t *testing.T) {
	type inner struct {
		Name string `json:"name"`
	}
	type sample struct {
		Token   string            `json:"token" log:"[redacted]"`
		Name    string            `json:"name"`
		Empty   string            `json:"empty"`
		Skipped string            `json:"-"`
		Untag   int
		Inner   *inner            `json:"inner"`
		NilPtr  *inner            `json:"nil_ptr"`
		Labels  map[string]string `json:"labels"`
		private string
	}

	v := structToSlogValue(
		&sample{
			Token:   "secret",
			Name:    "osu",
			Skipped: "skip",
			Untag:   3,
			Inner:   &inner{Name: "nested"},
			private: "hidden",
		},
	)
	require.Equal(t, slog.KindGroup, v.Kind())

	got := map[string]slog.Value{}
	for _, a := range v.Group() {
		got[a.Key] = a.Value
	}
	assert.Equal(t, "[redacted]", got["token"].String())
	assert.Equal(t, "osu", got["name"].String())
	assert.Equal(t, int64(3), got["Untag"].Int64())
	assert.Equal(t, slog.KindGroup, got["inner"].Kind())
	for _, key := range []string{"empty", "-", "Skipped", "nil_ptr", "labels", "private"} {
		_, ok := got[key]
		assert.False(t, ok, key)
	}

	assert.Equal(t, slog.AnyValue(nil), structToSlogValue(nil))
	assert.Equal(t, slog.AnyValue(nil), structToSlogValue((*sample)(nil)))
	assert.Equal(t, int64(5), structToSlogValue(5).Int64())
}

func TestContextLogger(t *testing.T) {
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := testLogger(t)
	got, ok := ContextLogger(WithLogger(context.Background(), logger))
	require.True(t, ok)
	assert.Same(t, logger, got)
}

func TestDisableComponents(t *testing.T) {
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{CustomID: "next", Style: discordgo.PrimaryButton},
				&discordgo.Button{CustomID: "prev", Style: discordgo.SecondaryButton},
				discordgo.Button{URL: "https://osu.ppy.sh", Style: discordgo.LinkButton},
			},
		},
		&discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{CustomID: "sort"},
			},
		},
	}

	disabled := disableComponents(components)
	require.Len(t, disabled, 2)

	buttons := disabled[0].(discordgo.ActionsRow).Components
	assert.True(t, buttons[0].(discordgo.Button).Disabled)
	assert.True(t, buttons[1].(discordgo.Button).Disabled)
	assert.False(t, buttons[2].(discordgo.Button).Disabled, "link buttons stay enabled")
	assert.True(t, disabled[1].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu).Disabled)

	// the originals are untouched
	assert.False(t, components[0].(discordgo.ActionsRow).Components[0].(discordgo.Button).Disabled)
	assert.False(t, components[0].(discordgo.ActionsRow).Components[1].(*discordgo.Button).Disabled)

	assert.Equal(t, []discordgo.MessageComponent{}, disableComponents(nil))
}

func TestGetTextInputsFromModal(t *testing.T) {
	i := modalInteraction(MessageKey{ChannelID: "c", MessageID: "m"}, "alice", "modal", map[string]string{"page": "3"})
	inputs := getTextInputsFromModal(i.ModalSubmitData())
	require.Len(t, inputs, 1)
	assert.Equal(t, "page", inputs[0].CustomID)
	assert.Equal(t, "3", inputs[0].Value)
}

func TestDiscordInteractionOptions(t *testing.T) {
	i := withOptions(
		commandInteraction("alice", DiscordSlashCommandMedals),
		subcommand(DiscordSlashCommandMedalsMissing, stringOption(commandOptionName, "peppy")),
	)
	opts := discordInteractionOptions(i)
	require.Contains(t, opts, DiscordSlashCommandMedalsMissing)
	require.Contains(t, opts, commandOptionName)
	assert.Equal(t, "peppy", opts[commandOptionName].StringValue())
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "12,345", formatInt(12345))
	assert.Equal(t, "-1,000", formatInt(-1000))
	assert.Equal(t, "1,234.57", formatFloat(1234.567, 2))
	assert.Equal(t, "<t:1700000000:R>", discordTimestamp(time.Unix(1700000000, 0), "R"))
}

func TestRankPoints(t *testing.T) {
	history := []int{5, 0, 3, 4}

	assert.Equal(t, []rankPoint{{Day: 1, Rank: 3}, {Day: 2, Rank: 4}}, rankPoints(history, 3))
	assert.Equal(
		t,
		[]rankPoint{{Day: 0, Rank: 5}, {Day: 2, Rank: 3}, {Day: 3, Rank: 4}},
		rankPoints(history, 0),
	)
	assert.Len(t, rankPoints(history, 90), 3)
	assert.Empty(t, rankPoints([]int{0, 0}, 2))

	best, worst := rankBounds(rankPoints(history, 0))
	assert.Equal(t, 3, best)
	assert.Equal(t, 5, worst)
}

func TestRankTicks(t *testing.T) {
	tests := []struct {
		best  int
		worst int
		want  []string
	}{
		{best: 1000, worst: 5000, want: []string{"#1,000", "#2,000", "#3,000", "#4,000", "#5,000"}},
		{best: 1, worst: 2, want: []string{"#1", "#2"}},
		{best: 10, worst: 13, want: []string{"#10", "#11", "#12", "#13"}},
	}
	for _, tc := range tests {
		var got []string
		for _, tick := range rankTicks(tc.best, tc.worst) {
			got = append(got, tick.Label)
		}
		assert.Equal(t, tc.want, got)
	}
}

func TestRenderRankGraph(t *testing.T) {
	history := make([]int, 90)
	for i := range history {
		history[i] = 5000 - i*10
	}

	data, err := renderRankGraph("peppy (osu)", history, 30)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, rankGraphWidth, img.Bounds().Dx())
	assert.Equal(t, rankGraphHeight, img.Bounds().Dy())

	r, g, b, _ := img.At(rankGraphWidth-2, rankGraphHeight/2).RGBA()
	wr, wg, wb, _ := graphBackground.RGBA()
	assert.Equal(t, []uint32{wr, wg, wb}, []uint32{r, g, b})

	// the rank line is drawn below the title band
	var linePixels int
	for y := rankGraphHeaderHeight; y < rankGraphHeight; y++ {
		for x := 0; x < rankGraphWidth; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			if pr>>8 > 0xd0 && pg>>8 < 0x90 && pb>>8 > 0x80 {
				linePixels++
			}
		}
	}
	assert.Greater(t, linePixels, 100)

	// a single ranked day still draws
	_, err = renderRankGraph("single", []int{0, 0, 100}, 3)
	assert.NoError(t, err)

	_, err = renderRankGraph("unranked", []int{0, 0}, 2)
	assert.ErrorIs(t, err, ErrNoRankHistory)
}
