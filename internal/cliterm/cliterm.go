// Package cliterm holds small terminal-capability helpers: TTY detection,
// color hint capture, and state-label styling. No other package in the
// module imports it.
//
// Grounded on dcosson-h2/internal/cmd/term_colors.go (detectTerminalColorHints,
// persist/load-cache-to-JSON idiom using termenv + golang.org/x/term),
// adapted from H2_OSC_*-prefixed env overrides to this project's prefix
// and from a bespoke config.RootDir() to konsolaiconfig.Dir(). TTY
// detection additionally uses github.com/mattn/go-isatty directly (the
// teacher only pulls it in transitively through termenv) for checks on
// descriptors other than stdout.
package cliterm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"konsolai/internal/konsolaiconfig"
)

// colorToX11 converts a termenv.Color to the X11 "rgb:RRRR/GGGG/BBBB"
// format used by OSC 10/11 responses.
func colorToX11(c termenv.Color) string {
	if c == nil {
		return ""
	}
	if v, ok := c.(termenv.RGBColor); ok {
		hex := string(v)
		if len(hex) == 7 && hex[0] == '#' {
			r, _ := strconv.ParseUint(hex[1:3], 16, 8)
			g, _ := strconv.ParseUint(hex[3:5], 16, 8)
			b, _ := strconv.ParseUint(hex[5:7], 16, 8)
			return fmt.Sprintf("rgb:%04x/%04x/%04x", r*0x101, g*0x101, b*0x101)
		}
	}
	rgb := termenv.ConvertToRGB(c)
	r := uint8(rgb.R*255 + 0.5)
	g := uint8(rgb.G*255 + 0.5)
	b := uint8(rgb.B*255 + 0.5)
	return fmt.Sprintf("rgb:%04x/%04x/%04x", uint16(r)*0x101, uint16(g)*0x101, uint16(b)*0x101)
}

// ColorHints captures enough of the terminal's palette to render
// consistent UI chrome across attach sessions.
type ColorHints struct {
	OscFg     string `json:"osc_fg,omitempty"`
	OscBg     string `json:"osc_bg,omitempty"`
	ColorFGBG string `json:"colorfgbg,omitempty"`
	Term      string `json:"term,omitempty"`
	ColorTerm string `json:"colorterm,omitempty"`
}

// IsTTY reports whether fd is attached to a terminal.
func IsTTY(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DetectColorHints captures the current terminal's foreground/background
// colors for OSC 10/11 responses, plus a COLORFGBG fallback and
// TERM/COLORTERM for capability detection. When stdout is not a TTY, the
// last cached hints are returned instead. KONSOLAI_OSC_FG/_BG/_COLORFGBG
// env vars override whatever was detected or cached.
func DetectColorHints() ColorHints {
	var hints ColorHints

	overrideFg := os.Getenv("KONSOLAI_OSC_FG")
	overrideBg := os.Getenv("KONSOLAI_OSC_BG")
	overrideColorFGBG := os.Getenv("KONSOLAI_COLORFGBG")

	if term.IsTerminal(int(os.Stdout.Fd())) {
		output := termenv.NewOutput(os.Stdout)
		if fg := output.ForegroundColor(); fg != nil {
			hints.OscFg = colorToX11(fg)
		}
		if bg := output.BackgroundColor(); bg != nil {
			hints.OscBg = colorToX11(bg)
		}

		hints.ColorFGBG = os.Getenv("COLORFGBG")
		if hints.ColorFGBG == "" {
			if output.HasDarkBackground() {
				hints.ColorFGBG = "15;0"
			} else {
				hints.ColorFGBG = "0;15"
			}
		}

		hints.Term = os.Getenv("TERM")
		hints.ColorTerm = os.Getenv("COLORTERM")

		_ = persistColorHints(hints)
	} else if cached, ok := loadColorHints(); ok {
		hints = cached
	}

	if hints.ColorFGBG == "" {
		hints.ColorFGBG = os.Getenv("COLORFGBG")
	}
	if overrideFg != "" {
		hints.OscFg = overrideFg
	}
	if overrideBg != "" {
		hints.OscBg = overrideBg
	}
	if overrideColorFGBG != "" {
		hints.ColorFGBG = overrideColorFGBG
	}

	return hints
}

func colorHintsPath() (string, error) {
	dir := konsolaiconfig.Dir()
	return filepath.Join(dir, "terminal-colors.json"), nil
}

func persistColorHints(h ColorHints) error {
	path, err := colorHintsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func loadColorHints() (ColorHints, bool) {
	path, err := colorHintsPath()
	if err != nil {
		return ColorHints{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ColorHints{}, false
	}
	var h ColorHints
	if err := json.Unmarshal(data, &h); err != nil {
		return ColorHints{}, false
	}
	return h, true
}

// StyleForState returns a termenv style suited to rendering a session
// state label, using the teacher's "color implies meaning" palette:
// green for healthy/idle, yellow for in-progress, red for error/blocked.
func StyleForState(state string) termenv.Style {
	p := termenv.ColorProfile()
	switch state {
	case "Idle":
		return termenv.String("").Foreground(p.Color("2"))
	case "Working", "Starting":
		return termenv.String("").Foreground(p.Color("3"))
	case "WaitingInput":
		return termenv.String("").Foreground(p.Color("6"))
	case "Error":
		return termenv.String("").Foreground(p.Color("1"))
	default:
		return termenv.String("").Foreground(p.Color("8"))
	}
}
