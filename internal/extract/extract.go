// Package extract turns one raw mailbox message into normalized headers,
// plain-text/HTML bodies and attachment descriptors. It is pure: no I/O,
// no state.
package extract

import (
	"fmt"
	"strings"
	"time"
)

// Part is one node of a message's MIME tree. A part with children is a
// container; a part with decoded Data is a leaf; a part with a Filename
// and AttachmentID describes an attachment whose bytes live remotely.
type Part struct {
	MimeType     string
	Filename     string
	Data         []byte
	AttachmentID string
	Size         int64
	Parts        []Part
}

// Header is one raw message header.
type Header struct {
	Name  string
	Value string
}

// Envelope holds the normalized addressing fields of one message.
type Envelope struct {
	From       string
	To         []string
	Cc         []string
	Bcc        []string
	Subject    string
	Date       time.Time
	InReplyTo  string
	References []string
}

// AttachmentInfo describes one attachment found in the part tree. Bytes are
// not included; they are fetched separately by external attachment id.
type AttachmentInfo struct {
	ExternalID string
	Filename   string
	MimeType   string
	Size       int64
}

// Content is the result of walking a message's part tree.
type Content struct {
	Text        string
	HTML        string
	Attachments []AttachmentInfo
}

// ExtractContent walks the part tree and splits bodies from attachment
// descriptors. The first text/plain and first text/html leaves win;
// deeper alternatives are ignored.
func ExtractContent(root Part) Content {
	var c Content
	walk(root, &c)
	return c
}

func walk(p Part, c *Content) {
	if p.Filename != "" && p.AttachmentID != "" {
		c.Attachments = append(c.Attachments, AttachmentInfo{
			ExternalID: p.AttachmentID,
			Filename:   p.Filename,
			MimeType:   p.MimeType,
			Size:       p.Size,
		})
	} else if len(p.Data) > 0 {
		switch p.MimeType {
		case "text/plain":
			if c.Text == "" {
				c.Text = string(p.Data)
			}
		case "text/html":
			if c.HTML == "" {
				c.HTML = string(p.Data)
			}
		}
	}

	for _, child := range p.Parts {
		walk(child, c)
	}
}

// ParseEnvelope normalizes the addressing headers of one message.
func ParseEnvelope(headers []Header) Envelope {
	var env Envelope

	for _, h := range headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			env.Subject = h.Value
		case "from":
			env.From = h.Value
		case "to":
			env.To = SplitAddressList(h.Value)
		case "cc":
			env.Cc = SplitAddressList(h.Value)
		case "bcc":
			env.Bcc = SplitAddressList(h.Value)
		case "in-reply-to":
			env.InReplyTo = strings.TrimSpace(h.Value)
		case "references":
			env.References = strings.Fields(h.Value)
		case "date":
			if parsed, err := ParseDate(h.Value); err == nil {
				env.Date = parsed
			}
		}
	}

	return env
}

// SplitAddressList splits a comma-separated address header, keeping commas
// inside quoted display names intact.
func SplitAddressList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	var (
		out      []string
		current  strings.Builder
		inQuotes bool
	)

	for _, r := range value {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == ',' && !inQuotes:
			if addr := strings.TrimSpace(current.String()); addr != "" {
				out = append(out, addr)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if addr := strings.TrimSpace(current.String()); addr != "" {
		out = append(out, addr)
	}

	return out
}

// ParseDate parses the date formats commonly seen in email headers.
func ParseDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC3339,
	}

	dateStr = strings.TrimSpace(dateStr)

	// Some providers append a timezone name in parentheses after the
	// numeric offset, e.g. "Mon, 2 Jan 2006 15:04:05 -0700 (UTC)".
	if idx := strings.Index(dateStr, " ("); idx != -1 {
		dateStr = dateStr[:idx]
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
