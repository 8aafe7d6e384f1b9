package availability

import (
	"time"

	"github.com/appointmenthub/hub/services/booking-service/internal/model"
)

const (
	HorizonDays = 30
	SlotsPerDay = 16

	firstSlotHour = 9
	slotStep      = 30 * time.Minute
)

type TimeSlot struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

type DaySlots struct {
	Date    string     `json:"date"`
	Weekday string     `json:"weekday"`
	Day     int        `json:"day"`
	Month   string     `json:"month"`
	Slots   []TimeSlot `json:"slots"`
}

var slotTimes = buildSlotTimes()

func buildSlotTimes() []string {
	base := time.Date(2000, 1, 1, firstSlotHour, 0, 0, 0, time.UTC)
	out := make([]string, SlotsPerDay)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * slotStep).Format(model.TimeLayout)
	}
	return out
}

// SlotTimes returns the daily grid 09:00, 09:30, ... 16:30.
func SlotTimes() []string {
	out := make([]string, len(slotTimes))
	copy(out, slotTimes)
	return out
}

// IsSlotTime reports whether t sits on the daily grid.
func IsSlotTime(t string) bool {
	for _, s := range slotTimes {
		if s == t {
			return true
		}
	}
	return false
}

// HorizonDates returns the HorizonDays calendar dates starting the day after
// reference, in reference's location.
func HorizonDates(reference time.Time) []time.Time {
	y, m, d := reference.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, reference.Location())
	out := make([]time.Time, HorizonDays)
	for i := range out {
		out[i] = start.AddDate(0, 0, i+1)
	}
	return out
}

// InHorizon reports whether the YYYY-MM-DD date falls in the horizon of reference.
func InHorizon(reference time.Time, date string) bool {
	dates := HorizonDates(reference)
	first := dates[0].Format(model.DateLayout)
	last := dates[len(dates)-1].Format(model.DateLayout)
	// Same-width ISO dates compare lexically.
	return len(date) == len(model.DateLayout) && date >= first && date <= last
}

// Generate builds the provider's slot calendar for the horizon after reference.
// A slot is unavailable iff a non-cancelled appointment of providerID occupies
// its date and time; appointments of other providers or outside the horizon are
// ignored.
func Generate(reference time.Time, providerID string, appts []model.Appointment) []DaySlots {
	busy := make(map[model.SlotKey]struct{}, len(appts))
	for _, a := range appts {
		if a.ProviderID != providerID || !a.Status.Blocks() {
			continue
		}
		busy[a.Slot()] = struct{}{}
	}

	dates := HorizonDates(reference)
	days := make([]DaySlots, 0, len(dates))
	for _, d := range dates {
		date := d.Format(model.DateLayout)
		day := DaySlots{
			Date:    date,
			Weekday: d.Format("Mon"),
			Day:     d.Day(),
			Month:   d.Format("Jan"),
			Slots:   make([]TimeSlot, 0, SlotsPerDay),
		}
		for _, t := range slotTimes {
			_, taken := busy[model.SlotKey{ProviderID: providerID, Date: date, Time: t}]
			day.Slots = append(day.Slots, TimeSlot{Date: date, Time: t, Available: !taken})
		}
		days = append(days, day)
	}
	return days
}
