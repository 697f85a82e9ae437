// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"github.com/shineum/groupmail/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject      string      `json:"subject"`
	Body         messageBody `json:"body"`
	From         *recipient  `json:"from,omitempty"`
	ToRecipients []recipient `json:"toRecipients"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Email into a Graph API sendMail
// request body. Graph takes a single body, so HTML wins over plain text.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     msg.TextBody,
	}
	if msg.HtmlBody != "" {
		body.ContentType = "html"
		body.Content = msg.HtmlBody
	}

	toRecipients := make([]recipient, 0, len(msg.To))
	for _, addr := range msg.To {
		toRecipients = append(toRecipients, recipient{
			EmailAddress: emailAddress{Address: addr, Name: msg.ToName},
		})
	}

	var from *recipient
	if msg.FromName != "" {
		from = &recipient{EmailAddress: emailAddress{Address: msg.From, Name: msg.FromName}}
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:      msg.Subject,
			Body:         body,
			From:         from,
			ToRecipients: toRecipients,
		},
		SaveToSentItems: true,
	}
}
