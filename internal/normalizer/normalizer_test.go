package normalizer

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/mixelka/replydesk/pkg/models"
	"github.com/nalgeon/be"
	"google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func headers(kv ...string) []*gmail.MessagePartHeader {
	var h []*gmail.MessagePartHeader
	for i := 0; i+1 < len(kv); i += 2 {
		h = append(h, &gmail.MessagePartHeader{Name: kv[i], Value: kv[i+1]})
	}
	return h
}

func TestNormalizeMultipartAlternative(t *testing.T) {
	plain := "Hi Bob,\r\n\r\nCan we meet on Tuesday? ✓\r\n"
	html := "<p>Hi Bob,</p><p>Can we meet on <b>Tuesday</b>? ✓</p>"

	raw := &gmail.Message{
		Id:       "m1",
		ThreadId: "t1",
		LabelIds: []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: headers(
				"From", `"Alice Smith" <alice@example.com>`,
				"To", "bob@example.com",
				"Subject", "Meeting",
				"Date", "Wed, 14 Oct 2026 09:30:00 +0200",
			),
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64(plain)}},
						{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64(html)}},
					},
				},
				{MimeType: "text/plain", Filename: "notes.txt", Body: &gmail.MessagePartBody{Data: b64("attachment")}},
			},
		},
	}

	msg, err := New().Normalize("u1", raw)
	be.Err(t, err, nil)
	be.Equal(t, msg.PlainBody, plain)
	be.Equal(t, msg.HTMLBody, html)
	be.Equal(t, msg.UserID, "u1")
	be.Equal(t, msg.ProviderMessageID, "m1")
	be.Equal(t, msg.ThreadID, "t1")
	be.Equal(t, msg.SenderName, "Alice Smith")
	be.Equal(t, msg.SenderAddress, "alice@example.com")
	be.Equal(t, msg.Recipient, "bob@example.com")
	be.Equal(t, msg.Subject, "Meeting")
	be.True(t, msg.ReceivedAt.Equal(time.Date(2026, 10, 14, 7, 30, 0, 0, time.UTC)))
	be.True(t, !msg.IsRead)
	be.True(t, msg.RequiresReply)
	be.True(t, !msg.Malformed)
}

func TestNormalizeSinglePart(t *testing.T) {
	raw := &gmail.Message{
		Id:           "m2",
		InternalDate: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC).UnixMilli(),
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers:  headers("From", "carol@example.com", "Subject", "Hello"),
			// Unpadded URL-safe data is accepted
			Body: &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("just text?>"))},
		},
	}

	msg, err := New().Normalize("u1", raw)
	be.Err(t, err, nil)
	be.Equal(t, msg.PlainBody, "just text?>")
	be.Equal(t, msg.HTMLBody, "")
	be.Equal(t, msg.SenderName, "")
	be.Equal(t, msg.SenderAddress, "carol@example.com")
	be.True(t, msg.IsRead)
	be.True(t, msg.ReceivedAt.Equal(time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)))
}

func TestNormalizeSinglePartHTML(t *testing.T) {
	raw := &gmail.Message{
		Id: "m3",
		Payload: &gmail.MessagePart{
			MimeType: "text/html; charset=utf-8",
			Headers:  headers("From", "dan@example.com"),
			Body:     &gmail.MessagePartBody{Data: b64("<p>hi</p>")},
		},
	}

	msg, err := New().Normalize("u1", raw)
	be.Err(t, err, nil)
	be.Equal(t, msg.PlainBody, "")
	be.Equal(t, msg.HTMLBody, "<p>hi</p>")
}

func TestNormalizeSinglePartNonText(t *testing.T) {
	for _, mt := range []string{"application/pdf", "image/png", "multipart/mixed", ""} {
		raw := &gmail.Message{
			Id: "m9",
			Payload: &gmail.MessagePart{
				MimeType: mt,
				Headers:  headers("From", "erin@example.com", "Subject", "Invoice"),
				Body:     &gmail.MessagePartBody{Data: b64("%PDF-1.4 binary")},
			},
		}

		msg, err := New().Normalize("u1", raw)
		be.Err(t, err, nil)
		be.Equal(t, msg.PlainBody, "")
		be.Equal(t, msg.HTMLBody, "")
		be.Equal(t, msg.Subject, "Invoice")
		be.True(t, !msg.Malformed)
	}
}

func TestNormalizeFirstPartWins(t *testing.T) {
	raw := &gmail.Message{
		Id: "m4",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{
				{MimeType: "multipart/alternative", Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("first")}},
				}},
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("second")}},
			},
		},
	}

	msg, err := New().Normalize("u1", raw)
	be.Err(t, err, nil)
	be.Equal(t, msg.PlainBody, "first")
}

func nested(depth int) *gmail.MessagePart {
	leaf := &gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("deep")}}
	part := leaf
	for range depth {
		part = &gmail.MessagePart{MimeType: "multipart/mixed", Parts: []*gmail.MessagePart{part}}
	}
	return part
}

func TestNormalizeDepthCap(t *testing.T) {
	root := nested(5000)
	root.Headers = headers("From", "Eve <eve@example.com>", "Subject", "Deep")
	raw := &gmail.Message{Id: "m5", Payload: root}

	msg, err := New().Normalize("u1", raw)
	be.Err(t, err, ErrMalformedMessage)
	be.True(t, msg != nil)
	be.True(t, msg.Malformed)
	be.Equal(t, msg.Subject, "Deep")
	be.Equal(t, msg.SenderAddress, "eve@example.com")
	be.Equal(t, msg.PlainBody, "")
}

func TestNormalizeWithinDepthCap(t *testing.T) {
	raw := &gmail.Message{Id: "m6", Payload: nested(DefaultMaxDepth)}

	msg, err := New().Normalize("u1", raw)
	be.Err(t, err, nil)
	be.Equal(t, msg.PlainBody, "deep")
}

func TestNormalizeBadBase64(t *testing.T) {
	raw := &gmail.Message{
		Id: "m7",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers:  headers("Subject", "Broken"),
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "!!!not base64!!!"}},
			},
		},
	}

	msg, err := New().Normalize("u1", raw)
	be.Err(t, err, ErrMalformedMessage)
	be.Equal(t, msg.Subject, "Broken")
}

func TestNormalizeEmptyPayload(t *testing.T) {
	_, err := New().Normalize("u1", &gmail.Message{Id: "m8"})
	be.Err(t, err, ErrMalformedMessage)
}

func TestParseSender(t *testing.T) {
	cases := []struct {
		in, name, addr string
	}{
		{"Alice <alice@example.com>", "Alice", "alice@example.com"},
		{`"Smith, Bob" <bob@example.com>`, "Smith, Bob", "bob@example.com"},
		{"<carol@example.com>", "", "carol@example.com"},
		{"dan@example.com", "", "dan@example.com"},
		{"", "", ""},
	}
	for _, tc := range cases {
		name, addr := ParseSender(tc.in)
		be.Equal(t, name, tc.name)
		be.Equal(t, addr, tc.addr)
	}
}

func TestAutomatedSenderClassifier(t *testing.T) {
	c := NewAutomatedSenderClassifier()
	cases := []struct {
		msg  models.Message
		want bool
	}{
		{models.Message{SenderAddress: "alice@example.com", Subject: "Lunch?"}, true},
		{models.Message{SenderAddress: "no-reply@service.com"}, false},
		{models.Message{SenderAddress: "noreply@service.com"}, false},
		{models.Message{SenderAddress: "MAILER-DAEMON@mx.example.com"}, false},
		{models.Message{SenderName: "Mail Delivery Subsystem", SenderAddress: "x@example.com"}, false},
		{models.Message{SenderAddress: "bob@example.com", Subject: "Automatic reply: Lunch?"}, false},
		{models.Message{SenderAddress: "bob@example.com", Subject: "Re: out of office plans"}, true},
	}
	for _, tc := range cases {
		be.Equal(t, c.RequiresReply(&tc.msg), tc.want)
	}

	n := New(WithClassifier(c))
	msg, err := n.Normalize("u1", &gmail.Message{
		Id: "m9",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers:  headers("From", "No Reply <noreply@shop.example>"),
			Body:     &gmail.MessagePartBody{Data: b64("order shipped")},
		},
	})
	be.Err(t, err, nil)
	be.True(t, !msg.RequiresReply)
}
