package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"reelswap/internal/ledger"
	"reelswap/internal/preflight"
)

// tone is how a clip outcome or check result reads at a glance.
type tone int

const (
	tonePlain tone = iota
	toneGood
	toneDegraded
	toneBad
)

var toneColors = map[tone]string{
	toneGood:     "\x1b[32m",
	toneDegraded: "\x1b[33m",
	toneBad:      "\x1b[31m",
}

func paint(text string, t tone, enabled bool) string {
	color, ok := toneColors[t]
	if !enabled || !ok {
		return text
	}
	return color + text + "\x1b[0m"
}

// clipOutcome names the footage stitch will use for the clip. Crashed clips
// read as bad, other degradations as a warning.
func clipOutcome(c clipView) (string, tone) {
	switch {
	case !c.Resolved:
		return "pending", tonePlain
	case c.HasReplacement:
		return "replaced", toneGood
	case c.Error == ledger.ClipErrCrashed:
		return "original", toneBad
	case c.Error != "":
		return "original", toneDegraded
	default:
		return "original", tonePlain
	}
}

// clipErrorDetail spells out which clip holds an image this clip lost.
func clipErrorDetail(c clipView) string {
	if c.Error == ledger.ClipErrImageUsed && c.ImageOwner != nil {
		return fmt.Sprintf("%s (clip %d)", c.Error, *c.ImageOwner)
	}
	return orDash(c.Error)
}

func renderCheck(r preflight.Result, colorize bool) string {
	mark, t := "PASS", toneGood
	if !r.Passed {
		mark, t = "FAIL", toneBad
	}
	return fmt.Sprintf("  %s  %-22s %s", paint(mark, t, colorize), r.Name, r.Detail)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
