package mailmsg

import "net/mail"

// GetRecipientAddress extracts the bare addr-spec from a To header value,
// for use as the RCPT TO target. Quoted display names are stripped. If
// the header cannot be parsed as an address the raw value is returned
// unchanged, matching the fallback behaviour the message model requires.
func GetRecipientAddress(to string) string {
	if to == "" {
		return ""
	}

	addr, err := mail.ParseAddress(to)
	if err != nil || addr.Address == "" {
		return to
	}

	return addr.Address
}

// RecipientAddress is a convenience wrapper around [GetRecipientAddress]
// for the message's own To header.
func (m *ParsedMessage) RecipientAddress() string {
	return GetRecipientAddress(m.To)
}
