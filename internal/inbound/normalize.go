// Package inbound turns inbound-email deliveries into stored records and
// forwards a copy to the operator mailbox.
package inbound

import (
	"encoding/json"
	"net/mail"
	"strconv"
	"strings"

	"github.com/hostpennyuk/website/internal/store"
)

// Normalize maps a loosely typed provider payload onto an InboundEmail.
// Provider envelopes of the form {"type": ..., "data": {...}} are unwrapped.
// It does not touch storage or the network.
func Normalize(payload map[string]any) (store.InboundEmail, error) {
	data := unwrapEnvelope(payload)

	email := store.InboundEmail{
		MessageID:   strings.TrimSpace(firstString(data, "message_id", "messageId", "email_id", "id")),
		Subject:     strings.TrimSpace(firstString(data, "subject")),
		Text:        firstString(data, "text", "plain_text", "text_body"),
		HTML:        firstString(data, "html", "html_body"),
		InReplyTo:   strings.TrimSpace(firstString(data, "in_reply_to", "inReplyTo")),
		To:          parseAddressList(data["to"]),
		Cc:          parseAddressList(data["cc"]),
		Bcc:         parseAddressList(data["bcc"]),
		References:  parseReferences(data["references"]),
		Attachments: parseAttachments(data["attachments"]),
	}

	if from, ok := parseAddress(data["from"]); ok {
		email.From = from
	} else if from, ok := parseAddress(data["from_email"]); ok {
		email.From = from
	}
	for _, key := range []string{"reply_to", "replyTo"} {
		if replyTo, ok := parseAddress(data[key]); ok {
			email.ReplyTo = &replyTo
			break
		}
	}
	if email.Subject == "" {
		email.Subject = store.DefaultSubject
	}

	switch {
	case email.MessageID == "":
		return email, &store.ValidationError{Field: "messageId", Message: "messageId is required"}
	case email.From.Email == "":
		return email, &store.ValidationError{Field: "from.email", Message: "from.email is required"}
	case len(email.To) == 0:
		return email, &store.ValidationError{Field: "to", Message: "at least one recipient is required"}
	}
	return email, nil
}

func unwrapEnvelope(payload map[string]any) map[string]any {
	if _, typed := payload["type"]; !typed {
		return payload
	}
	if inner, ok := payload["data"].(map[string]any); ok {
		return inner
	}
	return payload
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := asString(data[key]); value != "" {
			return value
		}
	}
	return ""
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// parseAddress accepts {"email"|"address", "name"}, "Name <a@b>" or a bare
// address.
func parseAddress(value any) (store.Address, bool) {
	switch v := value.(type) {
	case string:
		return parseAddressString(v)
	case map[string]any:
		addr := store.Address{
			Email: strings.TrimSpace(firstString(v, "email", "address")),
			Name:  strings.TrimSpace(firstString(v, "name")),
		}
		return addr, addr.Email != ""
	case []any:
		if len(v) > 0 {
			return parseAddress(v[0])
		}
	}
	return store.Address{}, false
}

func parseAddressString(value string) (store.Address, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return store.Address{}, false
	}
	if parsed, err := mail.ParseAddress(trimmed); err == nil {
		return store.Address{Email: parsed.Address, Name: parsed.Name}, true
	}
	return store.Address{Email: trimmed}, true
}

func parseAddressList(value any) []store.Address {
	var out []store.Address
	switch v := value.(type) {
	case string:
		if parsed, err := mail.ParseAddressList(v); err == nil {
			for _, addr := range parsed {
				out = append(out, store.Address{Email: addr.Address, Name: addr.Name})
			}
			return out
		}
		for _, part := range strings.Split(v, ",") {
			if addr, ok := parseAddressString(part); ok {
				out = append(out, addr)
			}
		}
	case []any:
		for _, item := range v {
			if addr, ok := parseAddress(item); ok {
				out = append(out, addr)
			}
		}
	case map[string]any:
		if addr, ok := parseAddress(v); ok {
			out = append(out, addr)
		}
	}
	return out
}

func parseReferences(value any) []string {
	var out []string
	switch v := value.(type) {
	case string:
		out = strings.Fields(v)
	case []any:
		for _, item := range v {
			if ref := strings.TrimSpace(asString(item)); ref != "" {
				out = append(out, ref)
			}
		}
	}
	return out
}

func parseAttachments(value any) []store.Attachment {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]store.Attachment, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, store.Attachment{
			Filename:    firstString(fields, "filename", "name"),
			ContentType: firstString(fields, "content_type", "contentType"),
			Size:        asInt64(fields["size"]),
			URL:         firstString(fields, "url", "download_url"),
		})
	}
	return out
}

func asInt64(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
