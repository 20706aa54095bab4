package alerts

import (
	"strconv"

	"github.com/sawpanic/stratum/internal/domain"
)

// discordEmbed and discordMessage model the minimal subset of Discord's
// webhook embed schema this package needs — color, title, fields.
type discordEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []discordField `json:"fields"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

const discordColorSignal = 0x2ECC71 // green, matches the teacher's "positive signal" palette elsewhere

// buildDiscordSignalPayload renders a signal as a single-embed Discord
// webhook message. Discord webhooks aren't HMAC-signed, so this is a
// separate delivery target from the partner-webhook payload rather than a
// body format variant of the same job.
func buildDiscordSignalPayload(sig domain.Signal) discordMessage {
	return discordMessage{
		Username: "Stratum",
		Embeds: []discordEmbed{{
			Title: "Signal detected",
			Color: discordColorSignal,
			Fields: []discordField{
				{Name: "Event", Value: sig.EventID, Inline: true},
				{Name: "Market", Value: string(sig.Market), Inline: true},
				{Name: "Type", Value: string(sig.SignalType), Inline: true},
				{Name: "Direction", Value: string(sig.Direction), Inline: true},
				{Name: "Strength", Value: strconv.Itoa(sig.StrengthScore), Inline: true},
				{Name: "Time bucket", Value: string(sig.TimeBucket), Inline: true},
			},
		}},
	}
}
