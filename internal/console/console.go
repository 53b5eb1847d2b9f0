package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/insightflow/insightflow/internal/analysis"
	"github.com/insightflow/insightflow/internal/client"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

const (
	timeLayout = "15:04:05"
	barWidth   = 30
)

type palette struct {
	timestamp *color.Color
	text      *color.Color
	success   *color.Color
	failure   *color.Color
	accent    *color.Color
}

func newPalette(theme client.Theme, enabled bool) palette {
	var p palette
	switch theme {
	case client.ThemeDark:
		p = palette{
			timestamp: color.New(color.FgHiBlack),
			text:      color.New(color.FgHiGreen),
			success:   color.New(color.Bold, color.FgHiGreen),
			failure:   color.New(color.Bold, color.FgHiRed),
			accent:    color.New(color.FgHiCyan),
		}
	default:
		p = palette{
			timestamp: color.New(color.Faint),
			text:      color.New(color.Reset),
			success:   color.New(color.Bold, color.FgGreen),
			failure:   color.New(color.Bold, color.FgRed),
			accent:    color.New(color.FgBlue),
		}
	}
	for _, c := range []*color.Color{p.timestamp, p.text, p.success, p.failure, p.accent} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Console renders orchestrator snapshots as a live log.
type Console struct {
	out      io.Writer
	tty      bool
	palette  palette
	printed  int
	last     analysis.Status
	lastFile string

	progress *mpb.Progress
	bar      *mpb.Bar
}

// New creates a console writing to out. Colors and the progress bar are only used
// when out is a terminal.
func New(out io.Writer, theme client.Theme) *Console {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &Console{
		out:     out,
		tty:     tty,
		palette: newPalette(theme, tty),
		last:    analysis.StatusIdle,
	}
}

// Render prints what changed since the previous snapshot.
func (c *Console) Render(v analysis.View) {
	if !v.Status.Busy() {
		c.stopBar(v.Status == analysis.StatusSucceeded)
	}
	w := c.writer()

	if len(v.Log) < c.printed {
		// the log was reset by a new selection or a retry
		c.printed = 0
	}

	if v.File != nil && v.File.Name != c.lastFile && v.Status == analysis.StatusIdle {
		fmt.Fprintf(w, "%s %s (%s)\n", c.palette.accent.Sprint("Selected"), v.File.Name, v.File.SizeKB())
	}
	if v.File == nil {
		c.lastFile = ""
	} else {
		c.lastFile = v.File.Name
	}

	if v.Status.Busy() && !c.last.Busy() {
		fmt.Fprintln(w, c.palette.timestamp.Sprint(">_ Live Analysis Log"))
	}

	for _, entry := range v.Log[c.printed:] {
		fmt.Fprintf(w, "%s %s\n",
			c.palette.timestamp.Sprint("["+entry.Timestamp.Format(timeLayout)+"]"),
			c.palette.text.Sprint(entry.Text))
	}
	c.printed = len(v.Log)

	if v.Status != c.last {
		switch v.Status {
		case analysis.StatusSucceeded:
			c.renderSuccess(v)
		case analysis.StatusFailed:
			fmt.Fprintln(c.out, c.palette.failure.Sprint("An error occurred."))
			fmt.Fprintln(c.out, "Check the logs above for details.")
		}
	}
	c.last = v.Status

	if v.Status.Busy() && c.tty {
		c.updateBar(v.Percent)
	}
}

// Finish moves past a pending progress bar.
func (c *Console) Finish() {
	c.stopBar(false)
}

func (c *Console) renderSuccess(v analysis.View) {
	fmt.Fprintln(c.out, c.palette.success.Sprint("Analysis Complete!"))
	if v.Result == nil || v.Result.ResultLink == "" {
		fmt.Fprintln(c.out, "Your file has been processed.")
		return
	}
	fmt.Fprintln(c.out, "Your file has been processed and uploaded to Google Drive.")
	fmt.Fprintf(c.out, "View processed file: %s\n", c.palette.accent.Sprint(v.Result.ResultLink))
}

// writer is where log lines go: above the bar while one is running.
func (c *Console) writer() io.Writer {
	if c.progress != nil {
		return c.progress
	}
	return c.out
}

func (c *Console) updateBar(percent int) {
	percent = max(0, min(percent, 100))
	if c.bar == nil {
		c.progress = mpb.New(mpb.WithOutput(c.out), mpb.WithWidth(barWidth))
		c.bar = c.progress.New(100,
			mpb.BarStyle().Lbound("").Filler("█").Tip("█").Padding("░").Rbound(""),
			mpb.PrependDecorators(decor.Name("Processing...", decor.WCSyncSpaceR)),
			mpb.AppendDecorators(decor.Percentage(decor.WCSyncSpace)),
		)
	}
	c.bar.SetCurrent(int64(percent))
}

// stopBar completes or drops the running bar and waits for its last frame.
func (c *Console) stopBar(complete bool) {
	if c.bar == nil {
		return
	}
	if complete {
		c.bar.SetCurrent(100)
	} else {
		c.bar.Abort(true)
	}
	c.progress.Wait()
	c.bar = nil
	c.progress = nil
}

// Confirm asks a yes/no question on out and reads the answer from in. Anything but
// "y" or "yes" is a no.
func Confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(out)
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// ResolveTheme returns the configured theme, or guesses one from COLORFGBG
// ("fg;bg", dark backgrounds are 0-6 and 8). Light is the fallback.
func ResolveTheme(configured client.Theme, colorfgbg string) client.Theme {
	if configured.Valid() {
		return configured
	}
	parts := strings.Split(colorfgbg, ";")
	if len(parts) < 2 {
		return client.ThemeLight
	}
	bg, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return client.ThemeLight
	}
	if (bg >= 0 && bg <= 6) || bg == 8 {
		return client.ThemeDark
	}
	return client.ThemeLight
}

// Interactive reports whether in is a terminal a user can answer prompts on.
func Interactive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
