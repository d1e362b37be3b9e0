package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bar 定義單根 OHLCV K 線
type Bar struct {
	Instrument string          `json:"instrument" yaml:"instrument"`
	StartTime  time.Time       `json:"starttime" yaml:"starttime"`
	Open       decimal.Decimal `json:"open" yaml:"open"`
	High       decimal.Decimal `json:"high" yaml:"high"`
	Low        decimal.Decimal `json:"low" yaml:"low"`
	Close      decimal.Decimal `json:"close" yaml:"close"`
	Volume     int64           `json:"volume" yaml:"volume"`
}

// originTimeLayouts are accepted for starttime in addition to RFC 3339.
// The origin API emits naive ISO timestamps without a zone.
var originTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

type barAlias Bar

type barWire struct {
	barAlias
	StartTime string `json:"starttime"`
}

// UnmarshalJSON accepts both zoned and naive starttime values.
func (b *Bar) UnmarshalJSON(data []byte) error {
	var w barWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Bar(w.barAlias)
	if w.StartTime == "" {
		b.StartTime = time.Time{}
		return nil
	}
	for _, layout := range originTimeLayouts {
		if t, err := time.Parse(layout, w.StartTime); err == nil {
			b.StartTime = t
			return nil
		}
	}
	return fmt.Errorf("invalid starttime %q", w.StartTime)
}

// IsZero reports whether b is the empty bar substituted for missing origin data.
func (b Bar) IsZero() bool {
	return b.Instrument == "" && b.StartTime.IsZero() && b.Volume == 0
}

// Equal compares two bars by value.
func (b Bar) Equal(o Bar) bool {
	return b.Instrument == o.Instrument &&
		b.StartTime.Equal(o.StartTime) &&
		b.Open.Equal(o.Open) &&
		b.High.Equal(o.High) &&
		b.Low.Equal(o.Low) &&
		b.Close.Equal(o.Close) &&
		b.Volume == o.Volume
}

// Kind distinguishes the two cached artifacts.
type Kind string

const (
	KindCurrent Kind = "current"
	KindHistory Kind = "history"
)

// CacheKey identifies a cached artifact in the distributed tiers.
type CacheKey struct {
	Instrument string
	Timeframe  string
	Kind       Kind
	Count      int
}

// CurrentKey builds the key of the newest bar of an instrument.
func CurrentKey(instrument, timeframe string) CacheKey {
	return CacheKey{Instrument: instrument, Timeframe: timeframe, Kind: KindCurrent}
}

// HistoryKey builds the key of the last count bars of an instrument.
func HistoryKey(instrument, timeframe string, count int) CacheKey {
	return CacheKey{Instrument: instrument, Timeframe: timeframe, Kind: KindHistory, Count: count}
}

// String renders the key as stored in Redis.
func (k CacheKey) String() string {
	var sb strings.Builder
	sb.WriteString(k.Instrument)
	sb.WriteString(":ohlcv:")
	sb.WriteString(k.Timeframe)
	if k.Kind == KindHistory {
		fmt.Fprintf(&sb, ":last_%d", k.Count)
		return sb.String()
	}
	sb.WriteString(":current")
	return sb.String()
}

// WorkloadUnit 定義一個模擬策略
type WorkloadUnit struct {
	ID             string   `json:"id" yaml:"id"`
	Kind           string   `json:"kind" yaml:"kind"`
	Instruments    []string `json:"instruments" yaml:"instruments"`
	Timeframe      string   `json:"timeframe" yaml:"timeframe"`
	Lookback       int      `json:"lookback" yaml:"lookback"`
	CadenceMinutes int      `json:"cadence_minutes" yaml:"cadence_minutes"`
}

var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"60m": time.Hour,
}

// TimeframeDuration returns the bar length of a timeframe. Unknown
// timeframes fall back to one minute.
func TimeframeDuration(timeframe string) time.Duration {
	if d, ok := timeframeDurations[timeframe]; ok {
		return d
	}
	return time.Minute
}

// StalenessWindow is how old local data may get before it is refetched:
// twice the timeframe.
func StalenessWindow(timeframe string) time.Duration {
	return 2 * TimeframeDuration(timeframe)
}

// CadenceMinutes is how often a strategy on timeframe runs, in minutes.
func CadenceMinutes(timeframe string) int {
	return int(TimeframeDuration(timeframe) / time.Minute)
}

// 定義常見錯誤
var (
	ErrOriginUnavailable       = errors.New("origin unavailable")
	ErrCacheBackendUnavailable = errors.New("cache backend unavailable")
	ErrUnknownCacheMode        = errors.New("unknown cache mode")
	ErrSharedStoreRequired     = errors.New("shared store required for 3-tier-shared mode")
	ErrInvalidWorkerCount      = errors.New("number of workers must be at least 1")
)
