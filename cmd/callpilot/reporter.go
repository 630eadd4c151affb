package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

const (
	nameWidth = 28
	slotWidth = 22
)

// printTaskSummary writes the per-provider outcomes and the shortlist of a
// finished task.
func printTaskSummary(w io.Writer, t *models.TaskState, names map[string]string) {
	fmt.Fprintln(w, "="+strings.Repeat("=", 60))
	fmt.Fprintf(w, " NEGOTIATION RESULTS (%s mode)\n", t.Mode)
	fmt.Fprintln(w, "="+strings.Repeat("=", 60))
	fmt.Fprintln(w)

	withSlot := 0
	for _, o := range t.Outcomes {
		if o.HasSlot() {
			withSlot++
		}
	}
	printer.Fprintf(w, "Providers contacted: %d\n", len(t.Outcomes))
	printer.Fprintf(w, "Offered a slot:      %d\n", withSlot)
	printer.Fprintf(w, "Tool calls:          %d\n", len(t.ToolLog))
	if !t.CreatedAt.IsZero() && !t.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Duration:            %v\n", t.UpdatedAt.Sub(t.CreatedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)

	if len(t.Outcomes) > 0 {
		fmt.Fprintln(w, "-"+strings.Repeat("-", 60))
		fmt.Fprintln(w, " PER-PROVIDER OUTCOMES")
		fmt.Fprintln(w, "-"+strings.Repeat("-", 60))
		for _, o := range t.Outcomes {
			name := displayName(o.ProviderID, names)
			if o.HasSlot() {
				printer.Fprintf(w, "  ✓ %s %s  confidence=%.2f\n",
					padRight(truncateName(name, nameWidth), nameWidth), formatSlot(*o.ProposedSlot), o.Confidence)
			} else {
				fmt.Fprintf(w, "  ✗ %s no slot\n", padRight(truncateName(name, nameWidth), nameWidth))
			}
			for _, reason := range o.RejectionReasons {
				fmt.Fprintf(w, "      • %s\n", reason)
			}
		}
		fmt.Fprintln(w)
	}

	printShortlist(w, t.Shortlist)
}

// printShortlist writes the ranked slots as a table.
func printShortlist(w io.Writer, shortlist []models.RankedSlot) {
	fmt.Fprintln(w, "-"+strings.Repeat("-", 60))
	fmt.Fprintln(w, " SHORTLIST")
	fmt.Fprintln(w, "-"+strings.Repeat("-", 60))

	if len(shortlist) == 0 {
		fmt.Fprintln(w, "  No bookable slots were found.")
		return
	}

	fmt.Fprintf(w, "  %-4s %s %s %s\n", "#", padRight("Provider", nameWidth), padRight("Slot", slotWidth), "Score")
	for _, r := range shortlist {
		name := r.ProviderName
		if name == "" {
			name = r.ProviderID
		}
		printer.Fprintf(w, "  %-4d %s %s %.3f\n",
			r.Rank, padRight(truncateName(name, nameWidth), nameWidth), padRight(formatSlot(r.Slot), slotWidth), r.Score)
	}
}

func printBooking(w io.Writer, b *models.BookedAppointment, names map[string]string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Booked %s at %s\n", displayName(b.ProviderID, names), formatSlot(b.Slot))
	fmt.Fprintf(w, "  confirmation: %s\n", b.ConfirmationID)
	if b.Message != "" {
		fmt.Fprintf(w, "  %s\n", b.Message)
	}
}

// slotLabel is the one-line form of a shortlist entry used in prompts.
func slotLabel(r models.RankedSlot) string {
	name := r.ProviderName
	if name == "" {
		name = r.ProviderID
	}
	return printer.Sprintf("%d. %s, %s (score %.2f)", r.Rank, name, formatSlot(r.Slot), r.Score)
}

func formatSlot(t time.Time) string {
	return t.Format("Mon Jan 2 15:04 MST")
}

func displayName(id string, names map[string]string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}

// truncateName shortens a name to maxLen runes, replacing the last rune with "…" if needed.
func truncateName(name string, maxLen int) string {
	runes := []rune(name)
	if len(runes) <= maxLen {
		return name
	}
	return string(runes[:maxLen-1]) + "…"
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
