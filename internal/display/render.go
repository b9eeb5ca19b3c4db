package display

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/hitoshi/prayersync/internal/model"
)

// 表示上の代替文字列
const (
	MissingTime  = "--:--"
	NoIqama      = "—"
	templateName = "schedule.html"
)

//go:embed templates/*.html
var templateFS embed.FS

var scheduleTemplate = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var prayerLabels = []struct {
	prayer model.Prayer
	label  string
}{
	{model.PrayerFajr, "Fajr"},
	{model.PrayerSunrise, "Sunrise"},
	{model.PrayerDhuhr, "Dhuhr"},
	{model.PrayerAsr, "Asr"},
	{model.PrayerMaghrib, "Maghrib"},
	{model.PrayerIsha, "Isha"},
}

// Row は表の1行分。
type Row struct {
	Label string
	Adhan string
	Iqama string
}

// View はテンプレートに渡す表示用の値。
type View struct {
	Mosque      string
	Address     string
	Placeholder bool
	Message     string
	Rows        []Row
	Jumua       string
	LastUpdated string
}

// NewView はスナップショットから表示用の値を組み立てる。
// 欠落した時刻は "--:--"、日の出のイカーマは "—" になる。
func NewView(s *model.PrayerSchedule) View {
	v := View{
		Mosque:      s.Venue.Name,
		Address:     s.Venue.Address,
		Placeholder: s.Status == model.StatusPlaceholder,
		Message:     s.Message,
		Jumua:       orMissing(FormatTime12HourPtr(s.Jumua)),
	}
	if lu := FormatLastUpdatedTime(s.LastUpdated); lu != nil {
		v.LastUpdated = *lu
	}

	for _, p := range prayerLabels {
		row := Row{
			Label: p.label,
			Adhan: orMissing(FormatTime12HourPtr(s.Times.Get(p.prayer))),
			Iqama: orMissing(FormatTime12HourPtr(s.Iqama.Get(p.prayer))),
		}
		if p.prayer == model.PrayerSunrise {
			row.Iqama = NoIqama
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}

// RenderSchedule はスナップショットを礼拝時刻表のHTMLとして書き出す。
func RenderSchedule(w io.Writer, s *model.PrayerSchedule) error {
	if s == nil {
		return fmt.Errorf("スナップショットがありません")
	}
	if err := scheduleTemplate.ExecuteTemplate(w, templateName, NewView(s)); err != nil {
		return fmt.Errorf("礼拝時刻表の描画に失敗: %w", err)
	}
	return nil
}

func orMissing(s *string) string {
	if s == nil {
		return MissingTime
	}
	return *s
}
