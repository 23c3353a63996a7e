package osuconcierge

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	embedColorDefault = 0xff66aa
	embedColorError   = 0xed4245
)

var numberPrinter = message.NewPrinter(language.English)

// formatInt formats n with thousands separators (ex: 12,345)
func formatInt(n int) string {
	return numberPrinter.Sprintf("%d", n)
}

// formatFloat formats f with thousands separators and the given precision
func formatFloat(f float64, precision int) string {
	return numberPrinter.Sprintf("%.*f", precision, f)
}

// discordTimestamp renders t with the given discord timestamp style
// (ex: "R" for relative)
func discordTimestamp(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

func osuUserAuthor(u *OsuUser, mode GameMode) *discordgo.MessageEmbedAuthor {
	if u == nil {
		return nil
	}
	name := u.Username
	if u.Statistics.PP > 0 {
		name = fmt.Sprintf("%s: %spp", u.Username, formatFloat(u.Statistics.PP, 2))
		if u.Statistics.GlobalRank != nil {
			name += fmt.Sprintf(" (#%s %s)", formatInt(*u.Statistics.GlobalRank), u.CountryCode)
		}
	}
	return &discordgo.MessageEmbedAuthor{
		Name:    name,
		URL:     fmt.Sprintf("%s/%s", u.ProfileURL(), mode),
		IconURL: fmt.Sprintf("https://osu.ppy.sh/images/flags/%s.png", u.CountryCode),
	}
}

func osuUserThumbnail(u *OsuUser) *discordgo.MessageEmbedThumbnail {
	if u == nil || u.AvatarURL == "" {
		return nil
	}
	return &discordgo.MessageEmbedThumbnail{URL: u.AvatarURL}
}
