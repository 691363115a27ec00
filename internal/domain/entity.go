package domain

import "time"

// UptimeHourRecord is the persisted form of a completed uptime hour.
type UptimeHourRecord struct {
	HourStart           time.Time `gorm:"primaryKey" json:"hour_start"`
	Symbol              string    `gorm:"index" json:"symbol"`
	MakerActiveSeconds  float64   `json:"maker_active_seconds"`
	MMActiveSeconds     float64   `json:"mm_active_seconds"`
	TotalElapsedSeconds float64   `json:"total_elapsed_seconds"`
	TargetSeconds       float64   `json:"target_seconds"`
	MakerUptimePct      float64   `json:"maker_uptime_pct"`
	MMUptimePct         float64   `json:"mm_uptime_pct"`
	TargetMet           bool      `json:"target_met"`
	CreatedAt           time.Time `json:"created_at"`
}

// FillRecord is the persisted form of a confirmed fill.
type FillRecord struct {
	ID       uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID  string    `gorm:"index" json:"order_id"`
	Symbol   string    `gorm:"index" json:"symbol"`
	Side     string    `json:"side"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	FilledAt time.Time `json:"filled_at"`
}
