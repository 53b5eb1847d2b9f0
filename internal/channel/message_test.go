package channel_test

import (
	"github.com/insightflow/insightflow/internal/channel"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Classify", func() {
	It("recognises the completion message", func() {
		raw := `{"type":"COMPLETED","drive_link":"https://drive.example/f/1","filename":"Processed_leads.xlsx"}`

		msg := channel.Classify(raw)
		Expect(msg.Kind).To(Equal(channel.MessageTerminal))
		Expect(msg.Text).To(Equal(raw))
		Expect(msg.Completion).NotTo(BeNil())
		Expect(msg.Completion.Type).To(Equal(channel.TypeCompleted))
		Expect(msg.Completion.DriveLink).To(Equal("https://drive.example/f/1"))
		Expect(msg.Completion.Filename).To(Equal("Processed_leads.xlsx"))
		Expect(msg.Completion.Extra).To(BeEmpty())
	})

	It("tolerates surrounding whitespace and keeps unknown fields", func() {
		raw := "  {\"type\": \"COMPLETED\", \"rows\": 12}\n"

		msg := channel.Classify(raw)
		Expect(msg.Kind).To(Equal(channel.MessageTerminal))
		Expect(msg.Completion.DriveLink).To(BeEmpty())
		Expect(msg.Completion.Extra).To(HaveKey("rows"))
		Expect(string(msg.Completion.Extra["rows"])).To(Equal("12"))
	})

	DescribeTable("keeps everything else as a verbatim log line",
		func(raw string) {
			msg := channel.Classify(raw)
			Expect(msg.Kind).To(Equal(channel.MessageLog))
			Expect(msg.Text).To(Equal(raw))
			Expect(msg.Completion).To(BeNil())
		},
		Entry("plain text", "Loaded 10 records."),
		Entry("plain text mentioning the keyword", "Step COMPLETED for lead 3"),
		Entry("malformed json", `{"type":"COMPLETED",`),
		Entry("another type", `{"type":"PROGRESS","note":"COMPLETED soon"}`),
		Entry("keyword in another field", `{"status":"COMPLETED"}`),
		Entry("lower case type", `{"type":"completed"}`),
		Entry("json array", `["COMPLETED"]`),
		Entry("json without the keyword", `{"type":"DONE"}`),
		Entry("empty", ""),
	)
})
