// Package voucher optionally tells the account owner, over SMS, that a
// new device is waiting on a login voucher, so they can approve or deny
// it from a device that is already signed in.
package voucher

import (
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/kindlyrobotics/edge-login-core/internal/config"
	"github.com/kindlyrobotics/edge-login-core/internal/xlog"
)

var log = xlog.New("Voucher")

// Notifier sends voucher notifications through Twilio. A nil *Notifier
// is valid and NotifyPendingVoucher on it is a no-op, so callers can
// wire it unconditionally.
type Notifier struct {
	client *twilio.RestClient
	from   string
	to     string
}

// NewNotifier builds a Notifier, or returns (nil, nil) when
// cfg.TwilioAccountSID is unset, since SMS notification is opt-in.
func NewNotifier(cfg config.Config) (*Notifier, error) {
	if cfg.TwilioAccountSID == "" {
		return nil, nil
	}
	if cfg.TwilioFromNumber == "" {
		return nil, fmt.Errorf("voucher: Twilio configured without a from number")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return &Notifier{client: client, from: cfg.TwilioFromNumber, to: cfg.VoucherPhone}, nil
}

// NotifyPendingVoucher texts the account owner that a device described
// by deviceDescription is waiting on approval. Failures are logged and
// returned but never block a login; the voucher flow works without SMS.
func (n *Notifier) NotifyPendingVoucher(username, deviceDescription string) error {
	if n == nil || n.to == "" {
		return nil
	}

	body := fmt.Sprintf("A new device is trying to sign in to %q", username)
	if deviceDescription != "" {
		body += fmt.Sprintf(" (%s)", deviceDescription)
	}
	body += ". Approve or deny it from a signed-in device."

	params := &openapi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(body)

	if _, err := n.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("voucher: send sms: %w", err)
	}
	log.Printf("notified %q of a pending voucher", username)
	return nil
}
