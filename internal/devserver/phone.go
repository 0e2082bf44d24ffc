package devserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Phone is an HTTP client for the scan endpoint. It plays the companion
// device that reads the QR code.
type Phone struct {
	Base string
	HTTP *http.Client
}

// NewPhone returns a Phone for the server at base. A nil client uses
// http.DefaultClient.
func NewPhone(base string, client *http.Client) *Phone {
	if client == nil {
		client = http.DefaultClient
	}
	return &Phone{Base: strings.TrimRight(base, "/"), HTTP: client}
}

// Scan submits a QR payload.
func (p *Phone) Scan(ctx context.Context, qr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Base+"/scan", strings.NewReader(qr))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrUnknownRef
	case resp.StatusCode == http.StatusBadRequest:
		return ErrBadQR
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("devserver scan: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
}
