package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/dota"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/store"
)

const dotaDisabledText = "Dota tracking is not configured."

// historyLimit caps the /dotahistory listing.
const historyLimit = 10

func (b *Bot) handleDota(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	if b.dota == nil {
		b.reply(ctx, ev, dotaDisabledText)

		return nil
	}

	status, err := b.dota.PlayerStatus(ctx)
	if err != nil {
		return fmt.Errorf("fetching player status: %w", err)
	}

	var sb strings.Builder

	sb.WriteString("<b>🎮 Dota 2</b>\n")

	if status.Name != "" {
		presence := "offline"

		switch {
		case status.InGame:
			presence = "in game"

			if status.GameExtra != "" {
				presence = html.EscapeString(status.GameExtra)
			}
		case status.Online:
			presence = "online"
		}

		fmt.Fprintf(
			&sb, "%s — %s\n", html.EscapeString(status.Name), presence,
		)
	}

	if status.LastMatch != nil {
		sb.WriteString("\n<b>Last match</b>\n")
		sb.WriteString(formatMatchLine(status.LastMatch))
	} else {
		sb.WriteString("\nNo recent matches.")
	}

	b.audit(ctx, user, "dota_status", "", originOf(ev))
	b.reply(ctx, ev, sb.String())

	return nil
}

func (b *Bot) handleDotaHistory(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	if b.dota == nil {
		b.reply(ctx, ev, dotaDisabledText)

		return nil
	}

	matches, err := b.dota.MatchHistory(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("fetching match history: %w", err)
	}

	if len(matches) == 0 {
		b.reply(ctx, ev, "No recent matches.")

		return nil
	}

	var sb strings.Builder

	sb.WriteString("<b>Recent matches</b>\n")

	for i := range matches {
		sb.WriteString(formatMatchLine(&matches[i]))
	}

	b.audit(ctx, user, "dota_history", "", originOf(ev))
	b.reply(ctx, ev, sb.String())

	return nil
}

func (b *Bot) handleDotaLive(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	if b.dota == nil {
		b.reply(ctx, ev, dotaDisabledText)

		return nil
	}

	live, err := b.dota.LiveMatch(ctx)
	if err != nil {
		return fmt.Errorf("fetching live match: %w", err)
	}

	b.audit(ctx, user, "dota_live", "", originOf(ev))

	if live == nil {
		b.reply(ctx, ev,
			"Not in a live match right now. "+
				"Live data can lag a few minutes behind the game start.")

		return nil
	}

	var sb strings.Builder

	fmt.Fprintf(
		&sb,
		"<b>📺 LIVE match #%d</b>\n%s | %s\nRadiant %d : %d Dire\n\n",
		live.MatchID, live.GameMode, live.GameTime,
		live.RadiantScore, live.DireScore,
	)

	for _, p := range live.Players {
		fmt.Fprintf(
			&sb, "%s (%s) — lvl %d, %d/%d/%d, %d gold\n",
			html.EscapeString(p.HeroName), p.Team,
			p.Level, p.Kills, p.Deaths, p.Assists, p.NetWorth,
		)
	}

	b.reply(ctx, ev, sb.String())

	return nil
}

func (b *Bot) handleDotaBuffs(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	if b.dota == nil {
		b.reply(ctx, ev, dotaDisabledText)

		return nil
	}

	matchID, err := b.buffsMatchID(ctx, ev.Args)
	if err != nil {
		b.reply(ctx, ev,
			"Usage: /dotabuffs <match_id> (or play a match first)")

		return nil
	}

	details, err := b.dota.MatchBuffs(ctx, matchID)
	if err != nil {
		return fmt.Errorf("fetching match buffs: %w", err)
	}

	var sb strings.Builder

	winner := "Dire"
	if details.RadiantWin {
		winner = "Radiant"
	}

	fmt.Fprintf(
		&sb, "<b>Match #%d</b>\n%s | %dm | %s victory\n\n",
		details.MatchID, details.GameMode,
		details.DurationSec/60, winner,
	)

	for _, p := range details.Players {
		fmt.Fprintf(
			&sb, "%s (%s) — %d/%d/%d\n",
			html.EscapeString(p.HeroName), p.Team,
			p.Kills, p.Deaths, p.Assists,
		)

		if len(p.Buffs) == 0 {
			continue
		}

		for _, buff := range p.Buffs {
			fmt.Fprintf(&sb, "  • %s", buff.Name)

			if buff.Stacks > 1 {
				fmt.Fprintf(&sb, " ×%d", buff.Stacks)
			}

			sb.WriteString("\n")
		}
	}

	b.audit(ctx, user, "dota_buffs", strconv.FormatInt(matchID, 10), originOf(ev))
	b.reply(ctx, ev, sb.String())

	return nil
}

// buffsMatchID resolves the target match: an explicit argument wins,
// otherwise the most recently cached match.
func (b *Bot) buffsMatchID(ctx context.Context, args string) (int64, error) {
	args = strings.TrimSpace(args)

	if args != "" {
		return strconv.ParseInt(args, 10, 64)
	}

	latest, err := b.store.LatestMatch(ctx)
	if err != nil {
		return 0, err
	}

	return latest.MatchID, nil
}

func formatMatchLine(m *dota.MatchSummary) string {
	outcome := "❌"
	if m.Won {
		outcome = "✅"
	}

	line := fmt.Sprintf(
		"%s %s — %s, %s, %dm",
		outcome, html.EscapeString(m.HeroName),
		m.KDA(), m.GameMode, m.DurationSec/60,
	)

	if m.StartedAt != nil {
		line += " — " + m.StartedAt.Format("Jan 2 15:04")
	}

	return line + "\n"
}
