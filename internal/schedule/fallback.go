package schedule

import (
	"errors"
	"time"

	"github.com/hitoshi/prayersync/internal/mawaqit"
	"github.com/hitoshi/prayersync/internal/model"
)

// プレースホルダーに付与する説明文。
const (
	MessageCredentialsMissing = "Prayer times will be available once Mawaqit credentials are configured."
	MessageShowingLastKnown   = "Live prayer times are temporarily unavailable. Showing the most recently published schedule."
	MessageUnavailable        = "Prayer times are temporarily unavailable. Please check back later."
)

// Fallback は取得・解析に失敗したときのスナップショットを生成する。
type Fallback struct {
	venue    model.Venue
	maxStale time.Duration
	now      func() time.Time
}

// NewFallback はFallbackの新しいインスタンスを生成する。
// maxStaleは前回スナップショットを引き継ぐ上限の経過時間（0は無制限）。
func NewFallback(venue model.Venue, maxStale time.Duration) *Fallback {
	return &Fallback{
		venue:    venue,
		maxStale: maxStale,
		now:      time.Now,
	}
}

// Placeholder はstatus=placeholderのスナップショットを返す。
// 前回のスナップショットが引き継ぎ可能なら時刻を複製し、lastUpdatedも前回の値を保つ。
// そうでなければ時刻はすべて欠落となるが、同じモスクの前回成功時刻はlastUpdatedに残す。
// lastUpdatedを現在時刻にすることはない。
func (f *Fallback) Placeholder(failure error, last *model.PrayerSchedule) *model.PrayerSchedule {
	if f.Carries(last) {
		lastUpdated := *last.LastUpdated
		return &model.PrayerSchedule{
			Venue:       last.Venue,
			Status:      model.StatusPlaceholder,
			Message:     f.message(failure, true),
			Times:       cloneAdhan(last.Times),
			Iqama:       cloneIqama(last.Iqama),
			Jumua:       clonePtr(last.Jumua),
			LastUpdated: &lastUpdated,
		}
	}

	placeholder := &model.PrayerSchedule{
		Venue:   f.venue,
		Status:  model.StatusPlaceholder,
		Message: f.message(failure, false),
	}
	// 時刻を引き継がない場合も、同じモスクの最後の成功時刻は保つ
	if last != nil && last.LastUpdated != nil && last.Venue.SourceID == f.venue.SourceID {
		lastUpdated := *last.LastUpdated
		placeholder.LastUpdated = &lastUpdated
	}
	return placeholder
}

// Carries は前回スナップショットが引き継ぎ対象かを返す。
// 取得成功時刻を持ち、同じモスクのもので、maxStale以内であることが条件。
// 引き継がれたプレースホルダーも元の成功時刻を保つため、連続失敗でもいずれ期限切れになる。
func (f *Fallback) Carries(last *model.PrayerSchedule) bool {
	if last == nil || last.LastUpdated == nil {
		return false
	}
	if last.Venue.SourceID != f.venue.SourceID {
		return false
	}
	if f.maxStale > 0 && f.now().Sub(*last.LastUpdated) > f.maxStale {
		return false
	}
	return true
}

func (f *Fallback) message(failure error, carried bool) string {
	if carried {
		return MessageShowingLastKnown
	}
	var fe *model.FetchError
	if errors.As(failure, &fe) && fe.Reason == mawaqit.ReasonCredentialsMissing {
		return MessageCredentialsMissing
	}
	return MessageUnavailable
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneAdhan(t model.AdhanTimes) model.AdhanTimes {
	return model.AdhanTimes{
		Fajr:    clonePtr(t.Fajr),
		Sunrise: clonePtr(t.Sunrise),
		Dhuhr:   clonePtr(t.Dhuhr),
		Asr:     clonePtr(t.Asr),
		Maghrib: clonePtr(t.Maghrib),
		Isha:    clonePtr(t.Isha),
	}
}

func cloneIqama(t model.IqamaTimes) model.IqamaTimes {
	return model.IqamaTimes{
		Fajr:    clonePtr(t.Fajr),
		Dhuhr:   clonePtr(t.Dhuhr),
		Asr:     clonePtr(t.Asr),
		Maghrib: clonePtr(t.Maghrib),
		Isha:    clonePtr(t.Isha),
	}
}
