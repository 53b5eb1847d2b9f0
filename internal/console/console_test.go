package console_test

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/insightflow/insightflow/internal/analysis"
	"github.com/insightflow/insightflow/internal/client"
	"github.com/insightflow/insightflow/internal/console"
	"github.com/insightflow/insightflow/internal/selector"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("console", func() {
	var (
		out  *bytes.Buffer
		con  *console.Console
		file *selector.SelectedFile
		at   time.Time
	)

	entry := func(text string) analysis.LogEntry {
		return analysis.LogEntry{Timestamp: at, Text: text}
	}

	BeforeEach(func() {
		out = &bytes.Buffer{}
		con = console.New(out, client.ThemeDark)
		f, err := selector.Select(selector.FromBytes("leads.csv", make([]byte, 2048)))
		Expect(err).NotTo(HaveOccurred())
		file = &f
		at = time.Date(2024, 5, 1, 14, 5, 9, 0, time.UTC)
	})

	It("prints the selection and only the new log lines", func() {
		con.Render(analysis.View{Status: analysis.StatusIdle, File: file})
		con.Render(analysis.View{Status: analysis.StatusUploading, File: file, Log: []analysis.LogEntry{entry("Initializing upload...")}})
		con.Render(analysis.View{Status: analysis.StatusAnalyzing, File: file, Log: []analysis.LogEntry{
			entry("Initializing upload..."),
			entry("Upload successful. Connecting to analysis stream..."),
		}})

		Expect(out.String()).To(Equal(strings.Join([]string{
			"Selected leads.csv (2.00 KB)",
			">_ Live Analysis Log",
			"[14:05:09] Initializing upload...",
			"[14:05:09] Upload successful. Connecting to analysis stream...",
			"",
		}, "\n")))
	})

	It("prints the result link on success", func() {
		con.Render(analysis.View{Status: analysis.StatusAnalyzing, File: file})
		out.Reset()
		con.Render(analysis.View{
			Status: analysis.StatusSucceeded,
			File:   file,
			Log:    []analysis.LogEntry{entry("Analysis completed successfully!")},
			Result: &analysis.Result{ResultLink: "https://drive.example/f/1"},
		})

		Expect(out.String()).To(ContainSubstring("[14:05:09] Analysis completed successfully!\n"))
		Expect(out.String()).To(ContainSubstring("Analysis Complete!\n"))
		Expect(out.String()).To(ContainSubstring("View processed file: https://drive.example/f/1\n"))
	})

	It("prints the failure notice once", func() {
		failedView := analysis.View{
			Status: analysis.StatusFailed,
			File:   file,
			Log:    []analysis.LogEntry{entry("Connection closed.")},
			Err:    errors.New("closed"),
		}
		con.Render(failedView)
		con.Render(failedView)

		Expect(strings.Count(out.String(), "An error occurred.")).To(Equal(1))
		Expect(out.String()).To(ContainSubstring("Check the logs above for details."))
		Expect(strings.Count(out.String(), "Connection closed.")).To(Equal(1))
	})

	It("starts over when the log is cleared", func() {
		con.Render(analysis.View{Status: analysis.StatusFailed, File: file, Log: []analysis.LogEntry{entry("a"), entry("b")}})
		out.Reset()
		con.Render(analysis.View{Status: analysis.StatusIdle, File: file})
		con.Render(analysis.View{Status: analysis.StatusUploading, File: file, Log: []analysis.LogEntry{entry("Initializing upload...")}})

		Expect(out.String()).To(ContainSubstring("[14:05:09] Initializing upload..."))
	})

	It("draws no progress bar and no colors outside a terminal", func() {
		con.Render(analysis.View{Status: analysis.StatusAnalyzing, File: file, Percent: 60})
		con.Finish()
		Expect(out.String()).NotTo(ContainSubstring("Processing..."))
		Expect(out.String()).NotTo(ContainSubstring("\033["))
	})

	DescribeTable("Confirm",
		func(answer string, expected bool) {
			prompt := &bytes.Buffer{}
			Expect(console.Confirm(bufio.NewReader(strings.NewReader(answer)), prompt, "Try again?")).To(Equal(expected))
			Expect(prompt.String()).To(HavePrefix("Try again? [y/N]: "))
		},
		Entry("yes", "yes\n", true),
		Entry("y", "Y\n", true),
		Entry("no", "n\n", false),
		Entry("empty line", "\n", false),
		Entry("end of input", "", false),
		Entry("answer without newline", "y", true),
	)

	DescribeTable("ResolveTheme",
		func(configured client.Theme, colorfgbg string, expected client.Theme) {
			Expect(console.ResolveTheme(configured, colorfgbg)).To(Equal(expected))
		},
		Entry("configured wins", client.ThemeLight, "15;0", client.ThemeLight),
		Entry("dark background", client.Theme(""), "15;0", client.ThemeDark),
		Entry("light background", client.Theme(""), "0;15", client.ThemeLight),
		Entry("three fields", client.Theme(""), "15;default;8", client.ThemeDark),
		Entry("nothing known", client.Theme(""), "", client.ThemeLight),
		Entry("garbage", client.Theme(""), "x;y", client.ThemeLight),
	)

	It("is not interactive on a buffer", func() {
		Expect(console.Interactive(strings.NewReader("y\n"))).To(BeFalse())
	})
})
