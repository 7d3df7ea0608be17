package relay

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bbernhard/repairiq/src/datastructures"
	qrcode "github.com/skip2/go-qrcode"
)

const PhonePagePath = "/phone.html"

var PairingInstructions = []string{
	"Open the camera app on your phone",
	"Scan the QR code shown on this screen",
	"Open the link and allow camera access",
	"Point your phone at the hardware component",
}

// Pairing issues deep links that let a phone join the relay.
type Pairing struct {
	tokens TokenStore
	ttl    time.Duration
}

func NewPairing(tokens TokenStore, ttl time.Duration) *Pairing {
	return &Pairing{tokens: tokens, ttl: ttl}
}

// PhoneUrl builds the deep link for token below baseUrl.
func PhoneUrl(baseUrl string, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseUrl, "/") + PhonePagePath)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Pairing) Issue(ctx context.Context, baseUrl string) (datastructures.PhoneCameraResult, error) {
	var res datastructures.PhoneCameraResult

	token, err := p.tokens.Issue(ctx, p.ttl)
	if err != nil {
		return res, fmt.Errorf("couldn't issue pairing token: %w", err)
	}

	phoneUrl, err := PhoneUrl(baseUrl, token)
	if err != nil {
		return res, fmt.Errorf("couldn't build phone url: %w", err)
	}

	png, err := qrcode.Encode(phoneUrl, qrcode.Medium, 256)
	if err != nil {
		return res, fmt.Errorf("couldn't render qr code: %w", err)
	}

	res.PhoneUrl = phoneUrl
	res.QrCode = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	res.Instructions = append([]string(nil), PairingInstructions...)
	return res, nil
}
