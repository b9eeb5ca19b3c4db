// Package display は礼拝時刻スナップショットの表示用フォーマットとHTML描画を提供する。
package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FallbackLastUpdated は最終更新日時を解析できない場合に表示する文言。
const FallbackLastUpdated = "Recently"

// lastUpdatedLayout は "Friday, March 15, 2024" 形式。
const lastUpdatedLayout = "Monday, January 2, 2006"

// naiveLayouts はタイムゾーンを持たないISO 8601形式（旧スクリプトの isoformat() 出力）。
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// FormatTime12Hour は "HH:MM"（24時間表記）を "H:MM AM/PM" に変換する。
// 時を解析できない入力はそのまま返す。
func FormatTime12Hour(time24 string) string {
	h, m, ok := strings.Cut(time24, ":")
	if !ok || m == "" {
		return time24
	}
	if !isDigits(h) {
		return time24
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour > 23 {
		return time24
	}

	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	hour %= 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%d:%s %s", hour, m, period)
}

// isDigits は符号を含まない数字のみの文字列かを返す。
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatTime12HourPtr はFormatTime12Hourのポインタ版。nilはnilのまま返す。
func FormatTime12HourPtr(time24 *string) *string {
	if time24 == nil {
		return nil
	}
	s := FormatTime12Hour(*time24)
	return &s
}

// FormatLastUpdated はISO 8601の日時を "Weekday, Month D, YYYY" 形式に変換する。
// nilはnil（行ごと省略）、解析できない文字列は "Recently" を返す。
// 日付はタイムスタンプ自身のオフセットで決める。
func FormatLastUpdated(dateString *string) *string {
	if dateString == nil {
		return nil
	}

	t, ok := parseTimestamp(strings.TrimSpace(*dateString))
	if !ok {
		s := FallbackLastUpdated
		return &s
	}
	s := t.Format(lastUpdatedLayout)
	return &s
}

// FormatLastUpdatedTime はスナップショットのlastUpdatedをFormatLastUpdatedと同じ形式にする。
func FormatLastUpdatedTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(lastUpdatedLayout)
	return &s
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
