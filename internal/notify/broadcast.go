// Package notify queues and delivers new-listing alerts to buyers over SMS and
// voice.
package notify

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
	"github.com/unnati-rahatwal/Techvanza/internal/storage"
)

var ErrInvalidPhone = errors.New("phone number has no digits")

// FormatE164 normalizes a stored mobile number. Ten-digit numbers get the
// default country code; twelve digits starting with it are already national
// plus country code.
func FormatE164(raw, countryCode string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", ErrInvalidPhone
	}
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	switch {
	case len(digits) == 10 && countryCode != "":
		return "+" + countryCode + digits, nil
	default:
		return "+" + digits, nil
	}
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func listingSMS(l protocol.Listing) string {
	return fmt.Sprintf("New Listing Alert: %skg %s available at %s. Log in to EcoTrade to buy!",
		formatQuantity(l.Quantity), l.WasteType, l.Location)
}

func listingVoice(l protocol.Listing) string {
	return fmt.Sprintf("Namaste. New listing alert on Eco Trade. %s kilograms of %s is now available at %s. Please login to the dashboard to purchase. Thank you.",
		formatQuantity(l.Quantity), l.WasteType, l.Location)
}

// VoiceTwiml wraps text in a TwiML <Say> with an Indian English voice.
func VoiceTwiml(text string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(text))
	return `<Response><Say voice="Polly.Aditi" language="en-IN">` + buf.String() + `</Say></Response>`
}

// ListingBroadcast builds one SMS and one voice notification per buyer.
// Buyers whose number cannot be normalized are skipped.
func ListingBroadcast(l protocol.Listing, buyers []protocol.User, countryCode string) []storage.Notification {
	sms := listingSMS(l)
	voice := listingVoice(l)
	out := make([]storage.Notification, 0, 2*len(buyers))
	seen := make(map[string]struct{}, len(buyers))
	for _, b := range buyers {
		phone, err := FormatE164(b.Mobile, countryCode)
		if err != nil {
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		out = append(out,
			storage.Notification{Channel: storage.ChannelSMS, Recipient: phone, Body: sms, ListingID: l.ID},
			storage.Notification{Channel: storage.ChannelVoice, Recipient: phone, Body: voice, ListingID: l.ID},
		)
	}
	return out
}
