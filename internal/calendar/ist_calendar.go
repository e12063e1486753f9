// Package calendar provides the concrete Trading Hours Port adapter
// (spec §6): NSE 09:15-15:30 and MCX 09:00-23:30, Monday through
// Friday, in IST.
package calendar

import "time"

// ISTCalendar implements ports.TradingHoursPort.
type ISTCalendar struct {
	loc *time.Location
}

// NewISTCalendar constructs the calendar, falling back to a fixed
// +05:30 offset if the "Asia/Kolkata" tzdata entry isn't available in
// the runtime environment.
func NewISTCalendar() *ISTCalendar {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &ISTCalendar{loc: loc}
}

type session struct {
	startHour, startMin int
	endHour, endMin     int
}

var sessions = map[string]session{
	"NSE": {startHour: 9, startMin: 15, endHour: 15, endMin: 30},
	"BSE": {startHour: 9, startMin: 15, endHour: 15, endMin: 30},
	"MCX": {startHour: 9, startMin: 0, endHour: 23, endMin: 30},
}

// IsTradeable reports whether exchange is open at istTime.
func (c *ISTCalendar) IsTradeable(exchange string, istTime time.Time) bool {
	sess, ok := sessions[exchange]
	if !ok {
		return false
	}
	t := istTime.In(c.loc)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), sess.startHour, sess.startMin, 0, 0, c.loc)
	end := time.Date(t.Year(), t.Month(), t.Day(), sess.endHour, sess.endMin, 0, 0, c.loc)
	return !t.Before(start) && !t.After(end)
}
