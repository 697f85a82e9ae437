// Package email defines the message model handed to every delivery provider.
package email

import "net/mail"

// Email is a single outbound message addressed to one recipient.
type Email struct {
	From      string
	FromName  string
	To        []string
	ToName    string
	Subject   string
	TextBody  string
	HtmlBody  string
	MessageID string

	// RawHeaders is only populated by the parser.
	RawHeaders map[string][]string
}

// Address formats addr with an optional display name as an RFC 5322
// mailbox. Names outside US-ASCII are RFC 2047 encoded.
func Address(name, addr string) string {
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}

// FromHeader returns the From mailbox with the display name applied.
func (e *Email) FromHeader() string {
	return Address(e.FromName, e.From)
}
