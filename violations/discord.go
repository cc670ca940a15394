package violations

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/liamcoop/salesaudit/rules"
)

type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts an embed per violation to one channel
type DiscordNotifier struct {
	session   embedSender
	channelID string
}

// NewDiscordNotifier creates a notifier from a bot token. The returned
// session should be closed on shutdown.
func NewDiscordNotifier(botToken, channelID string) (*DiscordNotifier, *discordgo.Session, error) {
	if botToken == "" || channelID == "" {
		return nil, nil, fmt.Errorf("discord bot token and channel id are required")
	}
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: channelID}, session, nil
}

// Notify sends the violation embed
func (d *DiscordNotifier) Notify(_ context.Context, n Notification) error {
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, buildEmbed(n)); err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}

func severityColor(s rules.Severity) int {
	switch s {
	case rules.SeverityCritical:
		return 0x992D22
	case rules.SeverityHigh:
		return 0xE74C3C
	case rules.SeverityMedium:
		return 0xF39C12
	}
	return 0x3498DB
}

func buildEmbed(n Notification) *discordgo.MessageEmbed {
	v := n.Violation
	title := v.RuleCode
	if n.RuleName != "" {
		title = fmt.Sprintf("%s - %s", v.RuleCode, n.RuleName)
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Order", Value: v.OrderID, Inline: true},
		{Name: "Manager", Value: orDash(v.ManagerID), Inline: true},
		{Name: "Severity", Value: string(v.Severity), Inline: true},
		{Name: "Points", Value: strconv.Itoa(v.Points), Inline: true},
	}
	if v.ChecklistResult != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Checklist",
			Value:  fmt.Sprintf("%g / %g (%d%%)", v.ChecklistResult.TotalScore, v.ChecklistResult.MaxScore, v.ChecklistResult.Percent),
			Inline: true,
		})
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: truncate(v.Details, 2000),
		Color:       severityColor(v.Severity),
		Fields:      fields,
		Timestamp:   v.ViolationTime.UTC().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: "run " + n.RunID,
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
