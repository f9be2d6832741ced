package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeMessages struct {
	params *twilioApi.CreateMessageParams
	resp   *twilioApi.ApiV2010Message
	err    error
	block  chan struct{}
}

func (f *fakeMessages) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.block != nil {
		<-f.block
	}
	return f.resp, f.err
}

func TestTwilioSenderSend(t *testing.T) {
	sid := "SM123"
	api := &fakeMessages{resp: &twilioApi.ApiV2010Message{Sid: &sid}}
	s := &TwilioSender{api: api, from: whatsappAddress("+14155238886")}

	require.NoError(t, s.Send(context.Background(), "+15550001", "hello"))
	assert.Equal(t, "whatsapp:+15550001", *api.params.To)
	assert.Equal(t, "whatsapp:+14155238886", *api.params.From)
	assert.Equal(t, "hello", *api.params.Body)
}

func TestTwilioSenderErrors(t *testing.T) {
	code, text := 63016, "outside the allowed window"

	tests := []struct {
		name string
		api  *fakeMessages
		want error
	}{
		{"server error", &fakeMessages{err: &client.TwilioRestError{Status: 503}}, ErrRetryableSend},
		{"rate limited", &fakeMessages{err: &client.TwilioRestError{Status: 429}}, ErrRetryableSend},
		{"bad number", &fakeMessages{err: &client.TwilioRestError{Status: 400, Code: 21211}}, ErrPermanentSend},
		{"network", &fakeMessages{err: errors.New("connection reset by peer")}, ErrRetryableSend},
		{"error code in body", &fakeMessages{resp: &twilioApi.ApiV2010Message{ErrorCode: &code, ErrorMessage: &text}}, ErrPermanentSend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &TwilioSender{api: tt.api, from: "whatsapp:+1"}
			err := s.Send(context.Background(), "+15550001", "hi")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTwilioSenderHonoursContext(t *testing.T) {
	api := &fakeMessages{block: make(chan struct{})}
	defer close(api.block)
	s := &TwilioSender{api: api, from: "whatsapp:+1"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, "+15550001", "hi")
	assert.ErrorIs(t, err, ErrRetryableSend)
}

func TestNewTwilioSenderNeedsCredentials(t *testing.T) {
	_, err := NewTwilioSender("", "token", "+1")
	assert.Error(t, err)

	s, err := NewTwilioSender("AC123", "token", "whatsapp:+14155238886")
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+14155238886", s.from)
}
