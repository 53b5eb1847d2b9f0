package console

import (
	"bytes"
	"time"

	"github.com/insightflow/insightflow/internal/analysis"
	"github.com/insightflow/insightflow/internal/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("palette", func() {
	DescribeTable("paints by theme when enabled",
		func(theme client.Theme, pick func(palette) string, prefix string) {
			painted := pick(newPalette(theme, true))
			Expect(painted).To(HavePrefix(prefix))
			Expect(painted).To(ContainSubstring("text"))
			Expect(painted).To(HaveSuffix("m"))
		},
		Entry("dark success", client.ThemeDark, func(p palette) string { return p.success.Sprint("text") }, "\x1b[1;92mtext"),
		Entry("dark failure", client.ThemeDark, func(p palette) string { return p.failure.Sprint("text") }, "\x1b[1;91mtext"),
		Entry("light accent", client.ThemeLight, func(p palette) string { return p.accent.Sprint("text") }, "\x1b[34mtext"),
		Entry("unknown theme is light", client.Theme(""), func(p palette) string { return p.failure.Sprint("text") }, "\x1b[1;31mtext"),
	)

	It("writes plain text when disabled", func() {
		p := newPalette(client.ThemeDark, false)
		Expect(p.success.Sprint("ok")).To(Equal("ok"))
		Expect(p.timestamp.Sprint("[10:00:00]")).To(Equal("[10:00:00]"))
	})
})

var _ = Describe("progress bar", func() {
	It("runs while busy and completes on success", func() {
		out := &bytes.Buffer{}
		c := &Console{out: out, tty: true, palette: newPalette(client.ThemeLight, false), last: analysis.StatusIdle}
		at := time.Date(2024, 5, 1, 14, 5, 9, 0, time.UTC)

		c.Render(analysis.View{Status: analysis.StatusAnalyzing, Percent: 60, Log: []analysis.LogEntry{{Timestamp: at, Text: "Processing lead 1/2"}}})
		Expect(c.bar).NotTo(BeNil())

		c.Render(analysis.View{
			Status:  analysis.StatusSucceeded,
			Percent: 100,
			Log:     []analysis.LogEntry{{Timestamp: at, Text: "Processing lead 1/2"}, {Timestamp: at, Text: "Analysis completed successfully!"}},
			Result:  &analysis.Result{ResultLink: "https://drive.example/f/1"},
		})
		Expect(c.bar).To(BeNil())
		Expect(c.progress).To(BeNil())
		Expect(out.String()).To(ContainSubstring("Processing..."))
		Expect(out.String()).To(ContainSubstring("100"))
		Expect(out.String()).To(ContainSubstring("View processed file: https://drive.example/f/1"))
	})

	It("drops the bar when the job fails", func() {
		out := &bytes.Buffer{}
		c := &Console{out: out, tty: true, palette: newPalette(client.ThemeLight, false), last: analysis.StatusIdle}

		c.Render(analysis.View{Status: analysis.StatusUploading, Percent: 5})
		Expect(c.bar).NotTo(BeNil())

		c.Render(analysis.View{Status: analysis.StatusFailed, Err: analysis.ErrUnexpectedClosure})
		Expect(c.bar).To(BeNil())
		Expect(out.String()).To(ContainSubstring("An error occurred."))
	})
})
