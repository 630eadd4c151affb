// Package spinner draws a one-line progress indicator on a terminal.
package spinner

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Interval is the redraw period.
const Interval = 80 * time.Millisecond

// Start redraws status() behind an animated frame on w until the returned
// function is called. The line is cleared on stop.
func Start(w io.Writer, status func() string) (stop func()) {
	done := make(chan struct{})
	cleared := make(chan struct{})
	var stopOnce sync.Once

	go func() {
		ticker := time.NewTicker(Interval)
		defer ticker.Stop()

		width := 0
		for i := 0; ; i++ {
			line := fmt.Sprintf("%s %s", frames[i%len(frames)], status())
			lw := runewidth.StringWidth(line)
			// Pad over the remains of a longer previous line.
			fmt.Fprintf(w, "\r%s%s", line, strings.Repeat(" ", max(0, width-lw))) //nolint:errcheck
			width = max(width, lw)

			select {
			case <-done:
				fmt.Fprintf(w, "\r%s\r", strings.Repeat(" ", width)) //nolint:errcheck
				close(cleared)
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		stopOnce.Do(func() {
			close(done)
		})
		<-cleared
	}
}

// Elapsed returns a status func reporting message and the time since start.
func Elapsed(message string, start time.Time) func() string {
	return func() string {
		return fmt.Sprintf("%s %s", message, time.Since(start).Truncate(time.Second))
	}
}
