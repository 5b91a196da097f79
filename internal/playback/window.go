package playback

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// WindowState places a session relative to its scheduled broadcast window.
type WindowState int

const (
	NotStarted WindowState = iota
	Live
	Over
)

func (w WindowState) String() string {
	switch w {
	case NotStarted:
		return "not_started"
	case Live:
		return "live"
	default:
		return "over"
	}
}

// Window classifies now against [start, start+duration).
func Window(now, start time.Time, duration int) WindowState {
	elapsed := now.Sub(start)
	switch {
	case elapsed < 0:
		return NotStarted
	case elapsed >= time.Duration(duration)*time.Second:
		return Over
	default:
		return Live
	}
}

// InitialOffset is the seek position when playback connects. An override wins over the
// natural elapsed time; both are clamped to [0, duration-1].
func InitialOffset(now, start time.Time, duration int, override *int) int {
	if override != nil {
		return clampOffset(*override, duration)
	}
	elapsed := int(math.Floor(now.Sub(start).Seconds()))
	return clampOffset(elapsed, duration)
}

func clampOffset(sec, duration int) int {
	last := duration - 1
	if last < 0 {
		last = 0
	}
	if sec < 0 {
		return 0
	}
	if sec > last {
		return last
	}
	return sec
}

// ParseTimeOverride reads the time query parameter. Anything but an integer means no override.
func ParseTimeOverride(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}
