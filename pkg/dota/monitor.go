package dota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/pcwarden/pcwarden/pkg/notify"
	"github.com/pcwarden/pcwarden/pkg/pcman"
	"github.com/pcwarden/pcwarden/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// matchScanDepth is how many recent matches one monitor pass inspects.
const matchScanDepth = 5

// Monitor periodically polls machine liveness and the tracked
// player's recent matches, fanning out notifications on transitions.
type Monitor struct {
	log        logrus.FieldLogger
	interval   time.Duration
	store      store.Store
	notifier   *notify.Notifier
	controller pcman.Controller
	client     *Client // nil disables match polling

	notifyPCStatus bool
	notifyMatches  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor creates the background monitor. client may be nil when
// game tracking is disabled; machine polling still runs.
func NewMonitor(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	notifier *notify.Notifier,
	controller pcman.Controller,
	client *Client,
) *Monitor {
	return &Monitor{
		log:            log.WithField("component", "monitor"),
		interval:       cfg.MonitorInterval(),
		store:          st,
		notifier:       notifier,
		controller:     controller,
		client:         client,
		notifyPCStatus: cfg.Notifications.PCStatus,
		notifyMatches:  cfg.Notifications.DotaMatches,
		done:           make(chan struct{}),
	}
}

// Start launches the poll loop. The first pass runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.log.WithField("interval", m.interval.String()).Info("Starting monitor")

	m.wg.Add(1)

	go m.loop(ctx)

	return nil
}

// Stop terminates the poll loop and waits for the current pass.
func (m *Monitor) Stop() error {
	close(m.done)
	m.wg.Wait()

	m.log.Info("Monitor stopped")

	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			m.runOnce(ctx)
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runOnce performs one poll pass. The two polls are independent and
// run concurrently.
func (m *Monitor) runOnce(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.pollMachine(gctx) })

	if m.client != nil {
		g.Go(func() error { return m.pollMatches(gctx) })
	}

	if err := g.Wait(); err != nil {
		m.log.WithError(err).Warn("Monitor pass failed")
	}
}

// pollMachine probes the machine and notifies subscribers when its
// liveness flips.
func (m *Monitor) pollMachine(ctx context.Context) error {
	prev, err := m.store.PCStatus(ctx)

	known := true

	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading machine status: %w", err)
		}

		known = false
	}

	online := m.controller.CheckOnline(ctx)

	if err := m.store.UpdatePCStatus(ctx, online, "", ""); err != nil {
		return fmt.Errorf("recording machine status: %w", err)
	}

	if !known || prev.Online == online {
		return nil
	}

	m.log.WithField("online", online).Info("Machine liveness changed")

	if m.notifyPCStatus {
		text := "🖥 PC went offline"
		if online {
			text = "🖥 PC is back online"
		}

		m.notifier.NotifyAllSubscribed(ctx, text)
	}

	return nil
}

// pollMatches records matches finished since the last pass and
// notifies subscribers about each one, oldest first. The very first
// pass only seeds the cache.
func (m *Monitor) pollMatches(ctx context.Context) error {
	history, err := m.client.MatchHistory(ctx, matchScanDepth)
	if err != nil {
		return err
	}

	if len(history) == 0 {
		return nil
	}

	last, err := m.store.LatestMatch(ctx)

	seeding := false

	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading last match: %w", err)
		}

		seeding = true
	}

	var fresh []MatchSummary

	for _, match := range history {
		if !seeding && match.MatchID == last.MatchID {
			break
		}

		fresh = append(fresh, match)
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		match := fresh[i]

		err := m.store.AddMatch(ctx, &store.Match{
			MatchID:     match.MatchID,
			HeroID:      match.HeroID,
			HeroName:    match.HeroName,
			Kills:       match.Kills,
			Deaths:      match.Deaths,
			Assists:     match.Assists,
			DurationSec: match.DurationSec,
			GameMode:    match.GameMode,
			Won:         match.Won,
			StartedAt:   match.StartedAt,
		})
		if err != nil {
			return fmt.Errorf("recording match %d: %w", match.MatchID, err)
		}

		if seeding || !m.notifyMatches {
			continue
		}

		m.notifier.NotifyAllSubscribed(ctx, FormatMatchResult(&match))
	}

	if len(fresh) > 0 {
		m.log.WithFields(logrus.Fields{
			"matches": len(fresh),
			"seeding": seeding,
		}).Info("New matches recorded")
	}

	return nil
}

// FormatMatchResult renders one finished match as a notification.
func FormatMatchResult(m *MatchSummary) string {
	outcome := "Defeat"
	if m.Won {
		outcome = "Victory"
	}

	return fmt.Sprintf(
		"🎮 New Dota 2 match\n%s — %s\nKDA: %s | %s | %dm",
		m.HeroName, outcome, m.KDA(), m.GameMode, m.DurationSec/60,
	)
}
