package availability

// TimesForDate lists the available times of date in grid order. It is empty
// when date is outside the horizon or fully booked.
func TimesForDate(days []DaySlots, date string) []string {
	times := []string{}
	for _, d := range days {
		if d.Date != date {
			continue
		}
		for _, s := range d.Slots {
			if s.Available {
				times = append(times, s.Time)
			}
		}
		break
	}
	return times
}

// TotalAvailable counts available slots across the horizon.
func TotalAvailable(days []DaySlots) int {
	n := 0
	for _, d := range days {
		for _, s := range d.Slots {
			if s.Available {
				n++
			}
		}
	}
	return n
}

func IsAvailable(days []DaySlots, date, time string) bool {
	for _, t := range TimesForDate(days, date) {
		if t == time {
			return true
		}
	}
	return false
}

// DatesWithAvailability lists the horizon dates that still have at least one free slot.
func DatesWithAvailability(days []DaySlots) []string {
	dates := []string{}
	for _, d := range days {
		for _, s := range d.Slots {
			if s.Available {
				dates = append(dates, d.Date)
				break
			}
		}
	}
	return dates
}
