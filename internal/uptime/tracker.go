// Package uptime accumulates maker/market-maker active time into
// wall-clock hourly buckets with a rolling 24 hour history.
package uptime

import (
	"log/slog"
	"time"

	"makerd/internal/domain"
)

// MakerMaxSpreadBps separates the two uptime classes: samples with a
// total configured spread at or under this count as maker time, wider
// samples count as market-maker time.
const MakerMaxSpreadBps = 10.0

const (
	historyHours = 24

	// Samples delayed past this (laptop sleep, GC pause) contribute at
	// most this much, so one late sample can't inflate an hour.
	maxSampleGap = 10 * time.Second
)

// Window is the live or frozen bucket for a single clock hour.
type Window struct {
	HourStart           time.Time `json:"hour_start"`
	MakerActiveSeconds  float64   `json:"maker_active_seconds"`
	MMActiveSeconds     float64   `json:"mm_active_seconds"`
	TotalElapsedSeconds float64   `json:"total_elapsed_seconds"`
	TargetSeconds       float64   `json:"target_seconds"`
}

// MakerUptimePct is maker time as a share of the full hour.
func (w Window) MakerUptimePct() float64 {
	pct := w.MakerActiveSeconds / 3600.0 * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// MMUptimePct is market-maker time as a share of the full hour.
func (w Window) MMUptimePct() float64 {
	pct := w.MMActiveSeconds / 3600.0 * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// TargetMet reports whether maker time reached the hourly target.
func (w Window) TargetMet() bool {
	return w.MakerActiveSeconds >= w.TargetSeconds
}

// WindowView is the published form of a window.
type WindowView struct {
	Window
	MakerUptimePct float64 `json:"maker_uptime_pct"`
	MMUptimePct    float64 `json:"mm_uptime_pct"`
	TargetMet      bool    `json:"target_met"`
}

func (w Window) view() WindowView {
	return WindowView{
		Window:         w,
		MakerUptimePct: w.MakerUptimePct(),
		MMUptimePct:    w.MMUptimePct(),
		TargetMet:      w.TargetMet(),
	}
}

// Stats is the full uptime snapshot: the live hour plus the history
// ring and rolling aggregates. Aggregates are recomputed from the ring
// on every call rather than accumulated, so partial hours can't drift
// them.
type Stats struct {
	CurrentHour               WindowView   `json:"current_hour"`
	IsActive                  bool         `json:"is_active"`
	SecondsRemainingForTarget float64      `json:"seconds_remaining_for_target"`
	SecondsElapsedInHour      float64      `json:"seconds_elapsed_in_hour"`
	History                   []WindowView `json:"history"`
	HoursTargetMetLast24h     int          `json:"hours_target_met_last_24h"`
	AvgMakerUptimePctLast24h  float64      `json:"avg_maker_uptime_pct_last_24h"`
	AvgMMUptimePctLast24h     float64      `json:"avg_mm_uptime_pct_last_24h"`
}

// ArchiveFunc receives each frozen hour on rollover.
type ArchiveFunc func(Window)

// Tracker accumulates samples. It is driven only from the engine
// goroutine, so it carries no locks.
type Tracker struct {
	targetSeconds float64
	current       Window
	history       []Window // oldest first, capped at historyHours
	lastSample    time.Time
	isActive      bool
	onArchive     ArchiveFunc
	logger        *slog.Logger
}

// NewTracker creates a tracker with the given hourly target.
func NewTracker(targetMinutes int, onArchive ArchiveFunc) *Tracker {
	now := time.Now()
	t := &Tracker{
		targetSeconds: float64(targetMinutes) * 60.0,
		onArchive:     onArchive,
		lastSample:    now,
		logger:        slog.Default().With("module", "uptime"),
	}
	t.current = t.newWindow(hourStart(now))
	return t
}

// SetTarget updates the hourly target for future windows; the live
// window keeps the target it started with.
func (t *Tracker) SetTarget(targetMinutes int) {
	t.targetSeconds = float64(targetMinutes) * 60.0
}

// Seed preloads the history ring from persisted records, oldest first.
func (t *Tracker) Seed(recs []domain.UptimeHourRecord) {
	for _, rec := range recs {
		t.history = append(t.history, Window{
			HourStart:           rec.HourStart,
			MakerActiveSeconds:  rec.MakerActiveSeconds,
			MMActiveSeconds:     rec.MMActiveSeconds,
			TotalElapsedSeconds: rec.TotalElapsedSeconds,
			TargetSeconds:       rec.TargetSeconds,
		})
	}
	t.trimHistory()
}

// Reset drops all uptime state. Used on symbol switch.
func (t *Tracker) Reset() {
	now := time.Now()
	t.current = t.newWindow(hourStart(now))
	t.history = nil
	t.lastSample = now
	t.isActive = false
	t.logger.Info("uptime reset")
}

// Sample records one observation: whether both sides are resting and
// the total configured spread at this instant. Maker and market-maker
// classifications are mutually exclusive per sample.
func (t *Tracker) Sample(now time.Time, hasBothSides bool, totalSpreadBps float64) {
	elapsed := now.Sub(t.lastSample)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxSampleGap {
		elapsed = maxSampleGap
	}
	t.lastSample = now

	// The bucket key comes from the sample timestamp, not a running
	// timer, so delayed samples land in the right hour.
	if hs := hourStart(now); !hs.Equal(t.current.HourStart) {
		t.rollover(hs)
	}

	secs := elapsed.Seconds()
	t.current.TotalElapsedSeconds += secs

	if hasBothSides {
		if totalSpreadBps <= MakerMaxSpreadBps {
			t.current.MakerActiveSeconds += secs
		} else {
			t.current.MMActiveSeconds += secs
		}
		if !t.isActive {
			t.logger.Info("uptime became active", slog.Float64("total_spread_bps", totalSpreadBps))
			t.isActive = true
		}
	} else if t.isActive {
		t.logger.Info("uptime became inactive")
		t.isActive = false
	}
}

// rollover freezes the current bucket and starts the new hour.
func (t *Tracker) rollover(newHour time.Time) {
	frozen := t.current
	t.logger.Info("uptime hour rollover",
		slog.Time("hour", frozen.HourStart),
		slog.Float64("maker_seconds", frozen.MakerActiveSeconds),
		slog.Float64("mm_seconds", frozen.MMActiveSeconds),
		slog.Bool("target_met", frozen.TargetMet()))

	t.history = append(t.history, frozen)
	t.trimHistory()
	if t.onArchive != nil {
		t.onArchive(frozen)
	}
	t.current = t.newWindow(newHour)
}

func (t *Tracker) trimHistory() {
	if len(t.history) > historyHours {
		t.history = t.history[len(t.history)-historyHours:]
	}
}

func (t *Tracker) newWindow(hour time.Time) Window {
	return Window{HourStart: hour, TargetSeconds: t.targetSeconds}
}

// Stats builds the published uptime snapshot.
func (t *Tracker) Stats(now time.Time) Stats {
	remaining := t.current.TargetSeconds - t.current.MakerActiveSeconds
	if remaining < 0 {
		remaining = 0
	}

	views := make([]WindowView, len(t.history))
	targetMet := 0
	var makerSum, mmSum float64
	for i, w := range t.history {
		views[i] = w.view()
		if w.TargetMet() {
			targetMet++
		}
		makerSum += w.MakerUptimePct()
		mmSum += w.MMUptimePct()
	}
	var avgMaker, avgMM float64
	if len(t.history) > 0 {
		avgMaker = makerSum / float64(len(t.history))
		avgMM = mmSum / float64(len(t.history))
	}

	return Stats{
		CurrentHour:               t.current.view(),
		IsActive:                  t.isActive,
		SecondsRemainingForTarget: remaining,
		SecondsElapsedInHour:      now.Sub(t.current.HourStart).Seconds(),
		History:                   views,
		HoursTargetMetLast24h:     targetMet,
		AvgMakerUptimePctLast24h:  avgMaker,
		AvgMMUptimePctLast24h:     avgMM,
	}
}

// hourStart truncates to the containing wall-clock hour.
func hourStart(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}
