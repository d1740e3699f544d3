// mail.go
//
// Mailer interface shared by every outbound email path (subscription
// confirmations, newsletter delivery) plus the message templates.
// Implementations live in api.go and smtp.go.
package mail

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrSendFailed is returned when the provider accepted the connection but rejected the message.
var ErrSendFailed = errors.New("email provider rejected message")

// Mailer sends a single email. Implementations must honour ctx cancellation and deadlines.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// NopMailer discards all outbound email. Used for local runs with EMAIL_PROVIDER=nop.
type NopMailer struct{}

func (NopMailer) Send(context.Context, string, string, string, string) error { return nil }

// Message is a rendered email ready to hand to a Mailer.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

const confirmationText = "Welcome to our newsletter, %%name%%!\n\n" +
	"Visit %%link%% to confirm your subscription."

const confirmationHTML = "Welcome to our newsletter, %%name%%!<br />" +
	"Click <a href=\"%%link%%\">here</a> to confirm your subscription."

// Confirmation renders the subscription confirmation email for name, pointing at link.
func Confirmation(name, link string) Message {
	vars := map[string]string{"name": name, "link": link}
	return Message{
		Subject: "Welcome!",
		HTML:    applyVars(confirmationHTML, vars),
		Text:    applyVars(confirmationText, vars),
	}
}

// unresolvedPlaceholder matches any %%word%% placeholder left after substitution.
var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl using vars, then strips any
// that remain unresolved rather than leaving them in the output.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "%%"+key+"%%", value)
	}
	substituted := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(substituted, "")
}
