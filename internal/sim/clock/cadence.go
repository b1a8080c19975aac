package clock

import "time"

type Mode uint8

const (
	Foreground Mode = iota
	Background
)

func (m Mode) String() string {
	if m == Background {
		return "bg"
	}
	return "fg"
}

func ParseMode(s string) (Mode, bool) {
	switch s {
	case "fg":
		return Foreground, true
	case "bg":
		return Background, true
	}
	return Foreground, false
}

// Cadence decides how often the runner invokes Advance. It never changes the step size.
type Cadence struct {
	FrameHz      int
	BackgroundHz int
}

func (c Cadence) Interval(m Mode) time.Duration {
	hz := c.FrameHz
	if m == Background {
		hz = c.BackgroundHz
		if hz <= 0 {
			hz = DefaultBackgroundHz
		}
	}
	if hz <= 0 {
		hz = DefaultHz
	}
	return time.Second / time.Duration(hz)
}
