// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScheduleStatus はスナップショットの生成経路を表す。
type ScheduleStatus string

const (
	// StatusOK はプロバイダから正常に取得・正規化されたスナップショット。
	StatusOK ScheduleStatus = "ok"
	// StatusPlaceholder はフォールバック経路で生成されたスナップショット。
	StatusPlaceholder ScheduleStatus = "placeholder"
)

// Prayer は礼拝名を表す。
type Prayer string

const (
	PrayerFajr    Prayer = "fajr"
	PrayerSunrise Prayer = "sunrise"
	PrayerDhuhr   Prayer = "dhuhr"
	PrayerAsr     Prayer = "asr"
	PrayerMaghrib Prayer = "maghrib"
	PrayerIsha    Prayer = "isha"
)

// DailyPrayers はMAWAQITの配列順（Fajr, Dhuhr, Asr, Maghrib, Isha）に並べた5回の礼拝。
var DailyPrayers = []Prayer{PrayerFajr, PrayerDhuhr, PrayerAsr, PrayerMaghrib, PrayerIsha}

// Venue は礼拝所のメタデータ。
// JSON上は表示層の互換性のため "mosque" キーで出力する。
type Venue struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	// SourceID はMAWAQIT上のモスクUUID。
	SourceID string `json:"uuid"`
}

// AdhanTimes は各礼拝のアザーン時刻（24時間表記 HH:MM）。
// nilは「不明」を意味し、JSONではキーごと省略される。
type AdhanTimes struct {
	Fajr    *string `json:"fajr,omitempty"`
	Sunrise *string `json:"sunrise,omitempty"`
	Dhuhr   *string `json:"dhuhr,omitempty"`
	Asr     *string `json:"asr,omitempty"`
	Maghrib *string `json:"maghrib,omitempty"`
	Isha    *string `json:"isha,omitempty"`
}

// IqamaTimes は各礼拝のイカーマ時刻。Sunriseは持たない。
type IqamaTimes struct {
	Fajr    *string `json:"fajr,omitempty"`
	Dhuhr   *string `json:"dhuhr,omitempty"`
	Asr     *string `json:"asr,omitempty"`
	Maghrib *string `json:"maghrib,omitempty"`
	Isha    *string `json:"isha,omitempty"`
}

// PrayerSchedule は永続化されるスナップショット。
// 一度書き出したら変更せず、次回の実行で丸ごと置き換える。
type PrayerSchedule struct {
	Venue       Venue          `json:"mosque"`
	Status      ScheduleStatus `json:"status"`
	Message     string         `json:"message,omitempty"`
	Times       AdhanTimes     `json:"times"`
	Iqama       IqamaTimes     `json:"iqama"`
	Jumua       *string        `json:"jumua,omitempty"`
	LastUpdated *time.Time     `json:"lastUpdated,omitempty"`
}

// Get は礼拝名に対応するアザーン時刻を返す。
func (t AdhanTimes) Get(p Prayer) *string {
	switch p {
	case PrayerFajr:
		return t.Fajr
	case PrayerSunrise:
		return t.Sunrise
	case PrayerDhuhr:
		return t.Dhuhr
	case PrayerAsr:
		return t.Asr
	case PrayerMaghrib:
		return t.Maghrib
	case PrayerIsha:
		return t.Isha
	}
	return nil
}

// Set は礼拝名に対応するアザーン時刻を設定する。
func (t *AdhanTimes) Set(p Prayer, v *string) {
	switch p {
	case PrayerFajr:
		t.Fajr = v
	case PrayerSunrise:
		t.Sunrise = v
	case PrayerDhuhr:
		t.Dhuhr = v
	case PrayerAsr:
		t.Asr = v
	case PrayerMaghrib:
		t.Maghrib = v
	case PrayerIsha:
		t.Isha = v
	}
}

// Get は礼拝名に対応するイカーマ時刻を返す。Sunriseは常にnil。
func (t IqamaTimes) Get(p Prayer) *string {
	switch p {
	case PrayerFajr:
		return t.Fajr
	case PrayerDhuhr:
		return t.Dhuhr
	case PrayerAsr:
		return t.Asr
	case PrayerMaghrib:
		return t.Maghrib
	case PrayerIsha:
		return t.Isha
	}
	return nil
}

// Set は礼拝名に対応するイカーマ時刻を設定する。Sunriseは無視する。
func (t *IqamaTimes) Set(p Prayer, v *string) {
	switch p {
	case PrayerFajr:
		t.Fajr = v
	case PrayerDhuhr:
		t.Dhuhr = v
	case PrayerAsr:
		t.Asr = v
	case PrayerMaghrib:
		t.Maghrib = v
	case PrayerIsha:
		t.Isha = v
	}
}

// TimeOfDay は検証済みの時刻（0時0分からの経過分）。
type TimeOfDay int

// ParseTimeOfDay は "HH:MM" 形式（00≤HH≤23, 00≤MM≤59）の文字列を解析する。
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok || len(h) != 2 || len(m) != 2 {
		return 0, fmt.Errorf("HH:MM形式ではありません: %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("時が範囲外です: %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("分が範囲外です: %q", s)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// Add は分単位のオフセットを加算する。日付を跨ぐ場合は24時間で折り返す。
func (t TimeOfDay) Add(minutes int) TimeOfDay {
	v := (int(t) + minutes) % (24 * 60)
	if v < 0 {
		v += 24 * 60
	}
	return TimeOfDay(v)
}

// String は "HH:MM" 形式の文字列を返す。
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// StringPtr は文字列のポインタを返す。
func StringPtr(s string) *string {
	return &s
}
