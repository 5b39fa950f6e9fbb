package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender delivers one message and returns the provider's reference for it.
type Sender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
	Call(ctx context.Context, to, text string) (string, error)
}

type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{client: client, from: from}
}

func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)
	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio sms: %w", err)
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}

func (s *TwilioSender) Call(ctx context.Context, to, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetTwiml(VoiceTwiml(text))
	resp, err := s.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio call: %w", err)
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}
