package mail

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/clubhouse/records"
)

func TestCompose(t *testing.T) {
	c := NewComposer("officers@club.test")

	link, err := c.Compose(Message{To: []string{"a@b.com", "c@d.com"}, Subject: "Hi & bye", Body: "line 1\nline 2"})
	require.NoError(t, err)
	assert.Equal(t, "mailto:a@b.com,c@d.com?subject=Hi%20%26%20bye&body=line%201%0D%0Aline%202", link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "mailto", u.Scheme)
	assert.Equal(t, "Hi & bye", u.Query().Get("subject"))

	link, err = c.Compose(Message{To: []string{"a@b.com"}})
	require.NoError(t, err)
	assert.Equal(t, "mailto:a@b.com", link)

	_, err = c.Compose(Message{})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = c.Compose(Message{To: []string{"not an address"}})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestContact(t *testing.T) {
	c := NewComposer("officers@club.test")
	link, err := c.Contact(ContactForm{Name: "Ada", Email: "a@b.com", Message: "Do you run workshops?"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "mailto:officers@club.test?"))

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "[Club Website] Message from Ada", u.Query().Get("subject"))
	assert.Contains(t, u.Query().Get("body"), "Do you run workshops?")
	assert.Contains(t, u.Query().Get("body"), "Email: a@b.com")

	_, err = c.Contact(ContactForm{Name: "Ada", Email: "nope", Message: "x"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = NewComposer("").Contact(ContactForm{Name: "Ada", Email: "a@b.com", Message: "x"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecision(t *testing.T) {
	c := NewComposer("officers@club.test")
	app := records.Application{Name: "Ada", Email: "a@b.com", Status: records.StatusAccepted, ReviewNote: "Bring a laptop."}

	link, err := c.Decision(app)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", u.Opaque[:len("a@b.com")])
	assert.Contains(t, u.Query().Get("body"), "accepted")
	assert.Contains(t, u.Query().Get("body"), "Bring a laptop.")

	app.Status = records.StatusRejected
	link, err = c.Decision(app)
	require.NoError(t, err)
	assert.Contains(t, link, "apply%20again")

	app.Status = records.StatusPending
	_, err = c.Decision(app)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
