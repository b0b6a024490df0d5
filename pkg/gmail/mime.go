package gmail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"mailpilot-backend/pkg/provider"
)

// buildRawMessage renders DraftParams as a base64url RFC 2822 message
// for the Gmail raw-send and draft endpoints. Generated content is
// always text/plain.
func buildRawMessage(params provider.DraftParams, from string) (string, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(params.Subject)
	if from != "" {
		h.SetAddressList("From", []*mail.Address{{Address: from}})
	}

	to, err := parseAddresses(params.To)
	if err != nil {
		return "", fmt.Errorf("invalid To address %q: %w", params.To, err)
	}
	h.SetAddressList("To", to)

	if params.Cc != "" {
		cc, err := parseAddresses(params.Cc)
		if err != nil {
			return "", fmt.Errorf("invalid Cc address %q: %w", params.Cc, err)
		}
		h.SetAddressList("Cc", cc)
	}

	if params.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{strings.Trim(params.InReplyTo, "<>")})
	}
	if params.References != "" {
		h.Set("References", params.References)
	}

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return "", fmt.Errorf("unable to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, params.Body); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

func parseAddresses(list string) ([]*mail.Address, error) {
	addrs, err := mail.ParseAddressList(list)
	if err != nil {
		// Accept bare addresses the stricter parser rejects.
		var out []*mail.Address
		for _, part := range strings.Split(list, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if !strings.Contains(part, "@") {
				return nil, err
			}
			out = append(out, &mail.Address{Address: part})
		}
		if len(out) == 0 {
			return nil, err
		}
		return out, nil
	}
	return addrs, nil
}
