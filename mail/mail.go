// Package mail composes mailto: links that open the visitor's or officer's
// own mail client. Nothing is delivered by the server.
package mail

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"text/template"

	"github.com/jmcleod/clubhouse/records"
)

// ErrInvalidMessage indicates a message that cannot be composed.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one email to be opened in a mail client.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// ContactForm is a submission from the public contact page.
type ContactForm struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Validate checks the required contact fields.
func (f ContactForm) Validate() error {
	switch {
	case strings.TrimSpace(f.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidMessage)
	case strings.TrimSpace(f.Message) == "":
		return fmt.Errorf("%w: message is required", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(f.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidMessage, f.Email)
	}
	return nil
}

var (
	contactBody = template.Must(template.New("contact").Parse(
		`Name: {{.Name}}
Email: {{.Email}}

{{.Message}}
`))

	acceptedBody = template.Must(template.New("accepted").Parse(
		`Hi {{.Name}},

Thanks for applying to join the club. We're happy to let you know your application has been accepted!
{{with .ReviewNote}}
{{.}}
{{end}}
See you at the next meeting,
The club officers
`))

	rejectedBody = template.Must(template.New("rejected").Parse(
		`Hi {{.Name}},

Thanks for applying to join the club. Unfortunately we can't offer you a spot right now.
{{with .ReviewNote}}
{{.}}
{{end}}
You're welcome to join our public events and apply again next term.
The club officers
`))
)

// Composer builds mailto: links for the site's messages.
type Composer struct {
	contactAddress string
	subjectPrefix  string
}

// NewComposer returns a Composer that sends contact messages to
// contactAddress.
func NewComposer(contactAddress string) *Composer {
	return &Composer{contactAddress: contactAddress, subjectPrefix: "[Club Website]"}
}

// Compose returns the RFC 6068 mailto: URL for m.
func (c *Composer) Compose(m Message) (string, error) {
	if len(m.To) == 0 {
		return "", fmt.Errorf("%w: no recipient", ErrInvalidMessage)
	}
	to := make([]string, 0, len(m.To))
	for _, addr := range m.To {
		a, err := mail.ParseAddress(addr)
		if err != nil {
			return "", fmt.Errorf("%w: invalid recipient %q", ErrInvalidMessage, addr)
		}
		to = append(to, url.PathEscape(a.Address))
	}

	var b strings.Builder
	b.WriteString("mailto:")
	b.WriteString(strings.Join(to, ","))
	sep := "?"
	if m.Subject != "" {
		b.WriteString(sep + "subject=" + escape(m.Subject))
		sep = "&"
	}
	if m.Body != "" {
		b.WriteString(sep + "body=" + escape(m.Body))
	}
	return b.String(), nil
}

// Contact returns the link that forwards a contact form to the club.
func (c *Composer) Contact(f ContactForm) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	if c.contactAddress == "" {
		return "", fmt.Errorf("%w: no contact address configured", ErrInvalidMessage)
	}
	body, err := render(contactBody, f)
	if err != nil {
		return "", err
	}
	subject := strings.TrimSpace(f.Subject)
	if subject == "" {
		subject = "Message from " + strings.TrimSpace(f.Name)
	}
	return c.Compose(Message{
		To:      []string{c.contactAddress},
		Subject: c.subjectPrefix + " " + subject,
		Body:    body,
	})
}

// Decision returns the link that notifies an applicant of a review outcome.
func (c *Composer) Decision(a records.Application) (string, error) {
	var (
		tmpl    *template.Template
		subject string
	)
	switch a.Status {
	case records.StatusAccepted:
		tmpl, subject = acceptedBody, "Your club application was accepted"
	case records.StatusRejected:
		tmpl, subject = rejectedBody, "Your club application"
	default:
		return "", fmt.Errorf("%w: application %s has not been reviewed", ErrInvalidMessage, a.ID)
	}
	body, err := render(tmpl, a)
	if err != nil {
		return "", err
	}
	return c.Compose(Message{To: []string{a.Email}, Subject: subject, Body: body})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// escape percent-encodes a header value. Spaces become %20 and line breaks
// CRLF, as mailto: requires.
func escape(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
