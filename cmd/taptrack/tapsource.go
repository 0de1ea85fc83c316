package main

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/taptrack/internal/device"
	"git.home.luguber.info/inful/taptrack/internal/record"
)

// lineTapSource reads card UIDs line by line, one tap per line. It stands in
// for the hardware reader: pipe UIDs into the process, or type them on a
// terminal. Blank lines are ignored, and a repeat of the same uid inside the
// debounce window is dropped the way a reader drops contact bounce.
type lineTapSource struct {
	taps     chan device.TapEvent
	debounce time.Duration
}

func newLineTapSource(r io.Reader, debounce time.Duration) *lineTapSource {
	s := &lineTapSource{taps: make(chan device.TapEvent, 4), debounce: debounce}
	go s.read(r)
	return s
}

func (s *lineTapSource) Taps() <-chan device.TapEvent { return s.taps }

func (s *lineTapSource) read(r io.Reader) {
	scanner := bufio.NewScanner(r)
	var lastUID string
	var lastAt time.Time
	for scanner.Scan() {
		uid := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if uid == "" {
			continue
		}
		now := time.Now()
		if uid == lastUID && now.Sub(lastAt) < s.debounce {
			continue
		}
		lastUID, lastAt = uid, now
		s.taps <- device.TapEvent{UID: uid}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Tap input closed with error", "error", err)
	}
	close(s.taps)
}

// systemClock reads the host wall clock. The engine still runs its own
// plausibility validation on every reading.
type systemClock struct{}

func (systemClock) Read() (record.ClockReading, error) {
	now := time.Now()
	return record.ClockReading{
		Year:   now.Year(),
		Month:  int(now.Month()),
		Day:    now.Day(),
		Hour:   now.Hour(),
		Minute: now.Minute(),
		Second: now.Second(),
	}, nil
}
