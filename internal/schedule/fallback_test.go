package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/prayersync/internal/mawaqit"
	"github.com/hitoshi/prayersync/internal/model"
)

func newTestFallback(maxStale time.Duration, now time.Time) *Fallback {
	f := NewFallback(defaultVenue, maxStale)
	f.now = func() time.Time { return now }
	return f
}

func lastKnownGood(lastUpdated time.Time) *model.PrayerSchedule {
	return &model.PrayerSchedule{
		Venue:  model.Venue{Name: "MIT Musalla (provider)", SourceID: "18650"},
		Status: model.StatusOK,
		Times: model.AdhanTimes{
			Fajr:    model.StringPtr("05:12"),
			Sunrise: model.StringPtr("06:40"),
			Isha:    model.StringPtr("19:45"),
		},
		Iqama: model.IqamaTimes{
			Fajr: model.StringPtr("05:30"),
		},
		Jumua:       model.StringPtr("13:15"),
		LastUpdated: &lastUpdated,
	}
}

func TestFallback_NoPreviousSnapshot(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newTestFallback(72*time.Hour, now)

	tests := []struct {
		name    string
		failure error
		message string
	}{
		{"credentials missing", &model.FetchError{Reason: mawaqit.ReasonCredentialsMissing}, MessageCredentialsMissing},
		{"timeout", &model.FetchError{Reason: mawaqit.ReasonTimeout}, MessageUnavailable},
		{"parse failure", &model.ParseError{Field: "times", Err: errors.New("bad")}, MessageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Placeholder(tt.failure, nil)

			want := &model.PrayerSchedule{
				Venue:   defaultVenue,
				Status:  model.StatusPlaceholder,
				Message: tt.message,
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Placeholder mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFallback_CarriesLastKnownGood(t *testing.T) {
	fetched := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newTestFallback(72*time.Hour, fetched.Add(6*time.Hour))
	last := lastKnownGood(fetched)

	got := f.Placeholder(&model.FetchError{Reason: mawaqit.ReasonUpstreamError, StatusCode: 503}, last)

	want := lastKnownGood(fetched)
	want.Status = model.StatusPlaceholder
	want.Message = MessageShowingLastKnown
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Placeholder mismatch (-want +got):\n%s", diff)
	}

	// 前回のスナップショットとポインタを共有しない
	*got.Times.Fajr = "00:00"
	*got.LastUpdated = time.Time{}
	if *last.Times.Fajr != "05:12" || !last.LastUpdated.Equal(fetched) {
		t.Error("placeholder must not alias the previous snapshot")
	}
}

func TestFallback_RepeatedFailuresKeepOriginalTimestamp(t *testing.T) {
	fetched := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newTestFallback(72*time.Hour, fetched.Add(time.Hour))
	failure := &model.FetchError{Reason: mawaqit.ReasonNetworkError}

	first := f.Placeholder(failure, lastKnownGood(fetched))
	second := f.Placeholder(failure, first)

	if second.LastUpdated == nil || !second.LastUpdated.Equal(fetched) {
		t.Errorf("lastUpdated = %v, want %v", second.LastUpdated, fetched)
	}
	if second.Times.Fajr == nil {
		t.Error("carried times should survive repeated failures")
	}
}

func TestFallback_StaleSnapshotIsNotCarried(t *testing.T) {
	fetched := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newTestFallback(72*time.Hour, fetched.Add(73*time.Hour))

	got := f.Placeholder(&model.FetchError{Reason: mawaqit.ReasonTimeout}, lastKnownGood(fetched))

	if got.Status != model.StatusPlaceholder {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusPlaceholder)
	}
	if got.Times.Fajr != nil || got.Iqama.Fajr != nil || got.Jumua != nil {
		t.Error("stale snapshot times must not be carried")
	}
	if got.LastUpdated == nil || !got.LastUpdated.Equal(fetched) {
		t.Errorf("lastUpdated = %v, want last success time %v", got.LastUpdated, fetched)
	}
	if got.Message != MessageUnavailable {
		t.Errorf("Message = %q, want %q", got.Message, MessageUnavailable)
	}
}

// 期限切れ後の失敗が続いても、最後の成功時刻は失われない
func TestFallback_StaleRepeatedFailuresKeepLastSuccess(t *testing.T) {
	fetched := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newTestFallback(72*time.Hour, fetched.Add(5*24*time.Hour))
	failure := &model.FetchError{Reason: mawaqit.ReasonTimeout}

	first := f.Placeholder(failure, lastKnownGood(fetched))
	second := f.Placeholder(failure, first)

	want := &model.PrayerSchedule{
		Venue:       defaultVenue,
		Status:      model.StatusPlaceholder,
		Message:     MessageUnavailable,
		LastUpdated: &fetched,
	}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("Placeholder mismatch (-want +got):\n%s", diff)
	}
}

func TestFallback_OtherMosqueTimestampIsDropped(t *testing.T) {
	fetched := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newTestFallback(72*time.Hour, fetched.Add(time.Hour))
	last := lastKnownGood(fetched)
	last.Venue.SourceID = "99999"

	got := f.Placeholder(&model.FetchError{Reason: mawaqit.ReasonTimeout}, last)

	if got.LastUpdated != nil || got.Times.Fajr != nil {
		t.Error("snapshot of another mosque must not leak into the placeholder")
	}
}

func TestFallback_Carries(t *testing.T) {
	fetched := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	otherMosque := lastKnownGood(fetched)
	otherMosque.Venue.SourceID = "99999"
	neverFetched := lastKnownGood(fetched)
	neverFetched.LastUpdated = nil

	tests := []struct {
		name     string
		maxStale time.Duration
		age      time.Duration
		last     *model.PrayerSchedule
		want     bool
	}{
		{"nil", 72 * time.Hour, 0, nil, false},
		{"within window", 72 * time.Hour, 72 * time.Hour, lastKnownGood(fetched), true},
		{"beyond window", 72 * time.Hour, 72*time.Hour + time.Second, lastKnownGood(fetched), false},
		{"unlimited", 0, 365 * 24 * time.Hour, lastKnownGood(fetched), true},
		{"different mosque", 72 * time.Hour, time.Hour, otherMosque, false},
		{"never fetched", 72 * time.Hour, time.Hour, neverFetched, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFallback(tt.maxStale, fetched.Add(tt.age))
			if got := f.Carries(tt.last); got != tt.want {
				t.Errorf("Carries = %v, want %v", got, tt.want)
			}
		})
	}
}
