// Package schedule はプロバイダ応答の正規化とフォールバック生成を提供する。
// どちらもI/Oを持たない純粋な変換で、取得と永続化はpipelineパッケージが担う。
package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/prayersync/internal/model"
)

// Sanitizer はプロバイダ由来の文字列をプレーンテキストにする。
// security.TextSanitizer が実装する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Normalizer はMAWAQITの応答をPrayerScheduleに変換する。
type Normalizer struct {
	defaults  model.Venue
	location  *time.Location
	sanitizer Sanitizer
}

// NewNormalizer はNormalizerの新しいインスタンスを生成する。
// defaultsは応答にモスク名・住所がない場合に使う会場情報で、SourceIDは常にdefaultsの値になる。
// locationはイカーマ暦の「今日」を決めるタイムゾーン。
func NewNormalizer(defaults model.Venue, location *time.Location, sanitizer Sanitizer) *Normalizer {
	if location == nil {
		location = time.UTC
	}
	return &Normalizer{
		defaults:  defaults,
		location:  location,
		sanitizer: sanitizer,
	}
}

// Normalize は生の応答を解析し、status=okのスナップショットを返す。
// 応答にないフィールドは欠落（nil）のまま残し、値を補わない。
// 構造が想定と異なる場合や時刻が不正な場合は *model.ParseError を返す。
func (n *Normalizer) Normalize(raw []byte, fetchedAt time.Time) (*model.PrayerSchedule, error) {
	fields, err := decodeObject(raw, "")
	if err != nil {
		return nil, err
	}

	venue, err := n.venue(fields)
	if err != nil {
		return nil, err
	}

	times, err := decodeAdhan(fields)
	if err != nil {
		return nil, err
	}

	iqama, err := decodeIqama(fields["iqamaCalendar"], fetchedAt.In(n.location), times)
	if err != nil {
		return nil, err
	}

	jumua, err := optionalTime(fields["jumua"], "jumua")
	if err != nil {
		return nil, err
	}

	lastUpdated := fetchedAt.UTC().Truncate(time.Second)
	return &model.PrayerSchedule{
		Venue:       venue,
		Status:      model.StatusOK,
		Times:       times,
		Iqama:       iqama,
		Jumua:       jumua,
		LastUpdated: &lastUpdated,
	}, nil
}

func (n *Normalizer) venue(fields map[string]json.RawMessage) (model.Venue, error) {
	venue := n.defaults

	name, err := optionalString(fields["name"], "name")
	if err != nil {
		return model.Venue{}, err
	}
	if name != nil {
		if clean := n.sanitize(*name); clean != "" {
			venue.Name = clean
		}
	}

	address, err := optionalString(fields["localisation"], "localisation")
	if err != nil {
		return model.Venue{}, err
	}
	if address != nil {
		if clean := n.sanitize(*address); clean != "" {
			venue.Address = clean
		}
	}

	return venue, nil
}

func (n *Normalizer) sanitize(s string) string {
	if n.sanitizer == nil {
		return strings.TrimSpace(s)
	}
	return n.sanitizer.Sanitize(s)
}

// decodeAdhan は times配列（Fajr, Dhuhr, Asr, Maghrib, Isha の順）と shuruq を読む。
// 配列が短い場合、末尾の礼拝は欠落となる。
func decodeAdhan(fields map[string]json.RawMessage) (model.AdhanTimes, error) {
	var times model.AdhanTimes

	entries, err := optionalArray(fields["times"], "times")
	if err != nil {
		return times, err
	}
	for i, prayer := range model.DailyPrayers {
		if i >= len(entries) {
			break
		}
		v, err := optionalTime(entries[i], fmt.Sprintf("times[%d]", i))
		if err != nil {
			return times, err
		}
		times.Set(prayer, v)
	}

	sunrise, err := optionalTime(fields["shuruq"], "shuruq")
	if err != nil {
		return times, err
	}
	times.Sunrise = sunrise

	return times, nil
}

// decodeIqama はイカーマ暦 iqamaCalendar[月-1]["日"] から当日分を読む。
// 各要素は絶対時刻 "HH:MM" か、アザーンからの分オフセット "+N"。
// 当日分がない場合はすべて欠落とする。
func decodeIqama(raw json.RawMessage, today time.Time, adhan model.AdhanTimes) (model.IqamaTimes, error) {
	var iqama model.IqamaTimes

	months, err := optionalArray(raw, "iqamaCalendar")
	if err != nil {
		return iqama, err
	}
	monthIndex := int(today.Month()) - 1
	if monthIndex >= len(months) {
		return iqama, nil
	}

	monthField := fmt.Sprintf("iqamaCalendar[%d]", monthIndex)
	if isAbsent(months[monthIndex]) {
		return iqama, nil
	}
	days, err := decodeObject(months[monthIndex], monthField)
	if err != nil {
		return iqama, err
	}

	dayKey := strconv.Itoa(today.Day())
	dayField := fmt.Sprintf("%s[%q]", monthField, dayKey)
	entries, err := optionalArray(days[dayKey], dayField)
	if err != nil {
		return iqama, err
	}

	for i, prayer := range model.DailyPrayers {
		if i >= len(entries) {
			break
		}
		field := fmt.Sprintf("%s[%d]", dayField, i)
		s, err := optionalString(entries[i], field)
		if err != nil {
			return iqama, err
		}
		if s == nil {
			continue
		}
		v, err := resolveIqama(*s, adhan.Get(prayer), field)
		if err != nil {
			return iqama, err
		}
		iqama.Set(prayer, v)
	}

	return iqama, nil
}

// resolveIqama はイカーマの値を絶対時刻にする。
// オフセット指定でアザーン時刻が欠落している場合は欠落を返す。
func resolveIqama(value string, adhan *string, field string) (*string, error) {
	if !strings.HasPrefix(value, "+") {
		t, err := model.ParseTimeOfDay(value)
		if err != nil {
			return nil, &model.ParseError{Field: field, Err: err}
		}
		return model.StringPtr(t.String()), nil
	}

	minutes, err := strconv.Atoi(value[1:])
	if err != nil || minutes < 0 || minutes > 24*60 {
		return nil, &model.ParseError{Field: field, Err: fmt.Errorf("イカーマのオフセットが不正です: %q", value)}
	}
	if adhan == nil {
		return nil, nil
	}
	base, err := model.ParseTimeOfDay(*adhan)
	if err != nil {
		return nil, &model.ParseError{Field: field, Err: err}
	}
	return model.StringPtr(base.Add(minutes).String()), nil
}

// isAbsent はキー欠落またはJSONのnullかを判定する。
func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeObject(raw json.RawMessage, field string) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &model.ParseError{Field: field, Err: errors.New("JSONオブジェクトではありません")}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, &model.ParseError{Field: field, Err: err}
	}
	return fields, nil
}

func optionalArray(raw json.RawMessage, field string) ([]json.RawMessage, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &model.ParseError{Field: field, Err: fmt.Errorf("配列ではありません: %w", err)}
	}
	return entries, nil
}

// optionalString は欠落・null・空文字列をnilとして返す。文字列以外の型はParseError。
func optionalString(raw json.RawMessage, field string) (*string, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, &model.ParseError{Field: field, Err: fmt.Errorf("文字列ではありません: %w", err)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// optionalTime は optionalString に加えて HH:MM 形式を検証する。
func optionalTime(raw json.RawMessage, field string) (*string, error) {
	s, err := optionalString(raw, field)
	if err != nil || s == nil {
		return nil, err
	}
	t, err := model.ParseTimeOfDay(*s)
	if err != nil {
		return nil, &model.ParseError{Field: field, Err: err}
	}
	return model.StringPtr(t.String()), nil
}
