package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
)

// messageCreator is the slice of the Twilio REST client TwilioSender uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender delivers WhatsApp messages through the Twilio REST API.
type TwilioSender struct {
	api  messageCreator
	from string // Format: "whatsapp:+14155238886"
}

// NewTwilioSender creates a sender from Twilio credentials.
func NewTwilioSender(accountSID, authToken, from string) (*TwilioSender, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio credentials")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &TwilioSender{
		api:  rest.Api,
		from: whatsappAddress(from),
	}, nil
}

func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

// Send sends one text message. The Twilio client has no context support,
// so the call runs in its own goroutine and Send returns when ctx is done.
func (t *TwilioSender) Send(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(whatsappAddress(to))
	params.SetBody(body)

	type result struct {
		resp *twilioApi.ApiV2010Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.api.CreateMessage(params)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrRetryableSend, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return classifyTwilioError(r.err)
		}
		if r.resp != nil && r.resp.ErrorCode != nil && *r.resp.ErrorCode != 0 {
			msg := ""
			if r.resp.ErrorMessage != nil {
				msg = *r.resp.ErrorMessage
			}
			return fmt.Errorf("%w: twilio error %d: %s", ErrPermanentSend, *r.resp.ErrorCode, msg)
		}
		sid := ""
		if r.resp != nil && r.resp.Sid != nil {
			sid = *r.resp.Sid
		}
		logger.WithUser(to).WithField("sid", sid).Debug("✅ WhatsApp message sent")
		return nil
	}
}

// classifyTwilioError maps provider errors onto ErrRetryableSend or
// ErrPermanentSend. 5xx and 429 are worth retrying, other 4xx are not.
// Anything that is not an API error is treated as a network failure.
func classifyTwilioError(err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		if restErr.Status >= 500 || restErr.Status == http.StatusTooManyRequests {
			return fmt.Errorf("%w: twilio %d: %v", ErrRetryableSend, restErr.Status, err)
		}
		return fmt.Errorf("%w: twilio %d: %v", ErrPermanentSend, restErr.Status, err)
	}
	return fmt.Errorf("%w: %v", ErrRetryableSend, err)
}

// LogSender only logs outbound messages. Used when Twilio is not configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to string, body string) error {
	logger.Log.WithFields(logrus.Fields{
		"to":   to,
		"body": body,
	}).Info("📤 Response (not sent - Twilio not configured)")
	return nil
}
