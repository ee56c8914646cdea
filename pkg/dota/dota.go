// Package dota tracks the configured player through the Steam Web API
// (presence, in-game state) and OpenDota (match history, live matches,
// permanent buffs). It also runs the background monitor that detects
// machine liveness transitions and freshly finished matches.
package dota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/sirupsen/logrus"
)

const (
	defaultSteamBase    = "https://api.steampowered.com"
	defaultOpenDotaBase = "https://api.opendota.com/api"

	// steamIDOffset converts between 32-bit Dota account IDs and
	// 64-bit Steam IDs.
	steamIDOffset int64 = 76561197960265728

	// dotaAppID is Steam's application id for Dota 2.
	dotaAppID = "570"

	httpTimeout = 15 * time.Second
)

// gameModes names the most common game mode ids.
var gameModes = map[int]string{
	0:  "Unknown",
	1:  "All Pick",
	2:  "Captain's Mode",
	3:  "Random Draft",
	4:  "Single Draft",
	5:  "All Random",
	11: "Mid Only",
	12: "Least Played",
	16: "Captain's Draft",
	18: "Ability Draft",
	19: "Event",
	20: "ARDM",
	21: "All Draft (AP)",
	22: "Ranked",
	23: "Turbo",
	24: "Mutation",
}

// buffNames maps OpenDota permanent-buff ids to readable names.
var buffNames = map[int]string{
	108:  "Aghanim's Scepter",
	609:  "Aghanim's Shard",
	235:  "Moon Shard (consumed)",
	102:  "Aegis of the Immortal",
	603:  "Cheese",
	604:  "Refresher Shard",
	5004: "Rupture (Bloodseeker)",
	5317: "Glyph of Fortification",
}

// MatchSummary is one finished match from the player's point of view.
type MatchSummary struct {
	MatchID     int64
	HeroID      int
	HeroName    string
	Kills       int
	Deaths      int
	Assists     int
	DurationSec int
	GameMode    string
	Won         bool
	StartedAt   *time.Time
}

// KDA renders the classic kills/deaths/assists triple.
func (m *MatchSummary) KDA() string {
	return fmt.Sprintf("%d/%d/%d", m.Kills, m.Deaths, m.Assists)
}

// PlayerStatus is the player's Steam presence plus their last match.
type PlayerStatus struct {
	Name      string
	Online    bool
	InGame    bool
	GameExtra string
	LastMatch *MatchSummary
}

// Buff is one permanent buff with its stack count.
type Buff struct {
	Name   string
	Stacks int
}

// MatchPlayer is one participant in a finished or live match.
type MatchPlayer struct {
	AccountID  int64
	HeroName   string
	Team       string
	Level      int
	NetWorth   int
	Kills      int
	Deaths     int
	Assists    int
	HeroDamage int
	Buffs      []Buff
}

// MatchDetails is a finished match with per-player buffs.
type MatchDetails struct {
	MatchID     int64
	DurationSec int
	GameMode    string
	RadiantWin  bool
	Players     []MatchPlayer
}

// LiveMatch is an in-progress match the tracked player participates in.
type LiveMatch struct {
	MatchID      int64
	GameTime     string
	GameMode     string
	RadiantScore int
	DireScore    int
	Players      []MatchPlayer
}

// Client talks to the Steam Web API and OpenDota for one tracked
// account. OpenDota needs no key; Steam presence does.
type Client struct {
	log          logrus.FieldLogger
	http         *http.Client
	steamBase    string
	openDotaBase string
	steamKey     string
	accountID32  int64

	heroMu sync.Mutex
	heroes map[int]string
}

// NewClient creates a Client for the configured account. The account
// id may be given in either 32-bit or 64-bit form.
func NewClient(log logrus.FieldLogger, cfg *config.DotaConfig) *Client {
	return &Client{
		log:          log.WithField("component", "dota"),
		http:         &http.Client{Timeout: httpTimeout},
		steamBase:    defaultSteamBase,
		openDotaBase: defaultOpenDotaBase,
		steamKey:     cfg.SteamAPIKey,
		accountID32:  To32Bit(cfg.AccountID),
	}
}

// To32Bit converts a 64-bit Steam ID to a 32-bit Dota account ID.
// IDs already in 32-bit form pass through unchanged.
func To32Bit(id int64) int64 {
	if id >= steamIDOffset {
		return id - steamIDOffset
	}

	return id
}

// To64Bit converts a 32-bit Dota account ID to a 64-bit Steam ID.
func To64Bit(id int64) int64 {
	if id >= steamIDOffset {
		return id
	}

	return id + steamIDOffset
}

// GameModeName resolves a game mode id to its name.
func GameModeName(mode int) string {
	if name, ok := gameModes[mode]; ok {
		return name
	}

	return fmt.Sprintf("Mode #%d", mode)
}

// buffName resolves a permanent-buff id to its name.
func buffName(id int) string {
	if name, ok := buffNames[id]; ok {
		return name
	}

	return fmt.Sprintf("Buff #%d", id)
}

// HeroName resolves a hero id against the cached OpenDota hero list,
// loading the cache on first use.
func (c *Client) HeroName(ctx context.Context, heroID int) string {
	c.heroMu.Lock()
	defer c.heroMu.Unlock()

	if c.heroes == nil {
		c.heroes = map[int]string{}

		var heroes []struct {
			ID            int    `json:"id"`
			LocalizedName string `json:"localized_name"`
		}

		if err := c.getJSON(
			ctx, c.openDotaBase+"/heroes", nil, &heroes,
		); err != nil {
			c.log.WithError(err).Warn("Failed to load hero list")
		}

		for _, h := range heroes {
			c.heroes[h.ID] = h.LocalizedName
		}

		if len(c.heroes) > 0 {
			c.log.WithField("heroes", len(c.heroes)).Info("Hero cache loaded")
		}
	}

	if name, ok := c.heroes[heroID]; ok && name != "" {
		return name
	}

	return fmt.Sprintf("Hero #%d", heroID)
}

// steamSummary is the Steam GetPlayerSummaries player object.
type steamSummary struct {
	PersonaName   string `json:"personaname"`
	PersonaState  int    `json:"personastate"`
	GameID        string `json:"gameid"`
	GameExtraInfo string `json:"gameextrainfo"`
}

// PlayerStatus returns the player's Steam presence combined with
// their most recent finished match from OpenDota.
func (c *Client) PlayerStatus(ctx context.Context) (*PlayerStatus, error) {
	status := &PlayerStatus{}

	if c.steamKey != "" {
		var resp struct {
			Response struct {
				Players []steamSummary `json:"players"`
			} `json:"response"`
		}

		err := c.getJSON(
			ctx,
			c.steamBase+"/ISteamUser/GetPlayerSummaries/v0002/",
			url.Values{
				"key":      {c.steamKey},
				"steamids": {strconv.FormatInt(To64Bit(c.accountID32), 10)},
			},
			&resp,
		)
		if err != nil {
			return nil, fmt.Errorf("fetching steam summary: %w", err)
		}

		if len(resp.Response.Players) > 0 {
			p := resp.Response.Players[0]
			status.Name = p.PersonaName
			status.Online = p.PersonaState > 0

			if p.GameID == dotaAppID {
				status.InGame = true
				status.GameExtra = p.GameExtraInfo
			}
		}
	}

	matches, err := c.MatchHistory(ctx, 1)
	if err != nil {
		return nil, err
	}

	if len(matches) > 0 {
		status.LastMatch = &matches[0]
	}

	return status, nil
}

// openDotaMatch is one entry of /players/{id}/matches.
type openDotaMatch struct {
	MatchID    int64 `json:"match_id"`
	HeroID     int   `json:"hero_id"`
	Kills      int   `json:"kills"`
	Deaths     int   `json:"deaths"`
	Assists    int   `json:"assists"`
	Duration   int   `json:"duration"`
	GameMode   int   `json:"game_mode"`
	PlayerSlot int   `json:"player_slot"`
	RadiantWin bool  `json:"radiant_win"`
	StartTime  int64 `json:"start_time"`
}

// won reports whether the player's side won. Slots below 128 are
// Radiant.
func (m *openDotaMatch) won() bool {
	return m.RadiantWin == (m.PlayerSlot < 128)
}

// MatchHistory returns the player's most recent finished matches,
// newest first.
func (c *Client) MatchHistory(
	ctx context.Context,
	limit int,
) ([]MatchSummary, error) {
	var raw []openDotaMatch

	err := c.getJSON(
		ctx,
		fmt.Sprintf("%s/players/%d/matches", c.openDotaBase, c.accountID32),
		url.Values{"limit": {strconv.Itoa(limit)}},
		&raw,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching match history: %w", err)
	}

	matches := make([]MatchSummary, 0, len(raw))

	for _, m := range raw {
		summary := MatchSummary{
			MatchID:     m.MatchID,
			HeroID:      m.HeroID,
			HeroName:    c.HeroName(ctx, m.HeroID),
			Kills:       m.Kills,
			Deaths:      m.Deaths,
			Assists:     m.Assists,
			DurationSec: m.Duration,
			GameMode:    GameModeName(m.GameMode),
			Won:         m.won(),
		}

		if m.StartTime > 0 {
			started := time.Unix(m.StartTime, 0).UTC()
			summary.StartedAt = &started
		}

		matches = append(matches, summary)
	}

	return matches, nil
}

// openDotaBuff is OpenDota's permanent buff entry.
type openDotaBuff struct {
	PermanentBuff int `json:"permanent_buff"`
	StackCount    int `json:"stack_count"`
}

func toBuffs(raw []openDotaBuff) []Buff {
	buffs := make([]Buff, 0, len(raw))
	for _, b := range raw {
		buffs = append(buffs, Buff{
			Name:   buffName(b.PermanentBuff),
			Stacks: b.StackCount,
		})
	}

	return buffs
}

// MatchBuffs returns a finished match with per-player permanent
// buffs, Radiant listed before Dire.
func (c *Client) MatchBuffs(
	ctx context.Context,
	matchID int64,
) (*MatchDetails, error) {
	var raw struct {
		Duration   int  `json:"duration"`
		GameMode   int  `json:"game_mode"`
		RadiantWin bool `json:"radiant_win"`
		Players    []struct {
			AccountID      int64          `json:"account_id"`
			PlayerSlot     int            `json:"player_slot"`
			HeroID         int            `json:"hero_id"`
			Kills          int            `json:"kills"`
			Deaths         int            `json:"deaths"`
			Assists        int            `json:"assists"`
			Level          int            `json:"level"`
			TotalGold      int            `json:"total_gold"`
			HeroDamage     int            `json:"hero_damage"`
			PermanentBuffs []openDotaBuff `json:"permanent_buffs"`
		} `json:"players"`
	}

	err := c.getJSON(
		ctx,
		fmt.Sprintf("%s/matches/%d", c.openDotaBase, matchID),
		nil,
		&raw,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching match %d: %w", matchID, err)
	}

	details := &MatchDetails{
		MatchID:     matchID,
		DurationSec: raw.Duration,
		GameMode:    GameModeName(raw.GameMode),
		RadiantWin:  raw.RadiantWin,
		Players:     make([]MatchPlayer, 0, len(raw.Players)),
	}

	for _, p := range raw.Players {
		team := "Radiant"
		if p.PlayerSlot >= 128 {
			team = "Dire"
		}

		details.Players = append(details.Players, MatchPlayer{
			AccountID:  p.AccountID,
			HeroName:   c.HeroName(ctx, p.HeroID),
			Team:       team,
			Level:      p.Level,
			NetWorth:   p.TotalGold,
			Kills:      p.Kills,
			Deaths:     p.Deaths,
			Assists:    p.Assists,
			HeroDamage: p.HeroDamage,
			Buffs:      toBuffs(p.PermanentBuffs),
		})
	}

	sort.SliceStable(details.Players, func(i, j int) bool {
		return details.Players[i].Team == "Radiant" &&
			details.Players[j].Team == "Dire"
	})

	return details, nil
}

// LiveMatch scans OpenDota /live for a match the tracked player is
// in. It returns (nil, nil) when the player is not playing; /live can
// lag a few minutes behind the game start.
func (c *Client) LiveMatch(ctx context.Context) (*LiveMatch, error) {
	var raw []struct {
		MatchID      int64 `json:"match_id"`
		GameTime     int   `json:"game_time"`
		GameMode     int   `json:"game_mode"`
		RadiantScore int   `json:"radiant_score"`
		DireScore    int   `json:"dire_score"`
		Players      []struct {
			AccountID      int64          `json:"account_id"`
			Team           int            `json:"team"`
			HeroID         int            `json:"hero_id"`
			Level          int            `json:"level"`
			NetWorth       int            `json:"net_worth"`
			Kills          int            `json:"kills"`
			Deaths         int            `json:"deaths"`
			Assists        int            `json:"assists"`
			PermanentBuffs []openDotaBuff `json:"permanent_buffs"`
		} `json:"players"`
	}

	if err := c.getJSON(ctx, c.openDotaBase+"/live", nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching live matches: %w", err)
	}

	for _, m := range raw {
		found := false

		for _, p := range m.Players {
			if p.AccountID == c.accountID32 {
				found = true

				break
			}
		}

		if !found {
			continue
		}

		live := &LiveMatch{
			MatchID:      m.MatchID,
			GameTime:     fmt.Sprintf("%d:%02d", m.GameTime/60, m.GameTime%60),
			GameMode:     GameModeName(m.GameMode),
			RadiantScore: m.RadiantScore,
			DireScore:    m.DireScore,
			Players:      make([]MatchPlayer, 0, len(m.Players)),
		}

		for _, p := range m.Players {
			team := "Radiant"
			if p.Team != 0 {
				team = "Dire"
			}

			live.Players = append(live.Players, MatchPlayer{
				AccountID: p.AccountID,
				HeroName:  c.HeroName(ctx, p.HeroID),
				Team:      team,
				Level:     p.Level,
				NetWorth:  p.NetWorth,
				Kills:     p.Kills,
				Deaths:    p.Deaths,
				Assists:   p.Assists,
				Buffs:     toBuffs(p.PermanentBuffs),
			})
		}

		sort.SliceStable(live.Players, func(i, j int) bool {
			return live.Players[i].Team == "Radiant" &&
				live.Players[j].Team == "Dire"
		})

		return live, nil
	}

	return nil, nil
}

// getJSON performs one GET request and decodes the JSON response.
func (c *Client) getJSON(
	ctx context.Context,
	rawURL string,
	params url.Values,
	out any,
) error {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
