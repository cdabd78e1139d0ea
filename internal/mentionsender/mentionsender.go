// Package mentionsender dispatches a single outbound Webmention or Pingback
// notification, preferring Webmention when both endpoints are known.
package mentionsender

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"webmentions/internal/httpwrap"
)

// Candidate is one notification to attempt: the mentioning page, the
// mentioned (target) page, and whichever endpoints were discovered for it.
type Candidate struct {
	MentionerURL       string
	MentionedURL       string
	WebmentionEndpoint string
	PingbackEndpoint   string
}

// RemoteError is the error a remote endpoint reported back, whether that's
// a non-2xx HTTP status or a parsed Pingback fault.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("mentionsender: remote error %d: %s", e.Code, e.Message)
}

// TransientError wraps a RemoteError the caller may reasonably expect to
// succeed on a later attempt (this system does not itself retry).
type TransientError struct{ *RemoteError }

// PermanentError wraps a RemoteError that will never succeed by retrying.
type PermanentError struct{ *RemoteError }

// Pingback fault-code classification, per the Pingback specification's
// error-code table.
var (
	transientFaultCodes = map[int]bool{0x0000: true, 0x0010: true, 0x0031: true, 0x0032: true}
	permanentFaultCodes = map[int]bool{0x0011: true, 0x0020: true, 0x0021: true}
	notActuallyErrors   = map[int]bool{0x0030: true}
)

const indeterminateFaultCode = -1

// SendMention sends c's notification, preferring Webmention over Pingback
// when both are present. It returns nil on success (including a suppressed
// "already registered" Pingback fault); otherwise a *TransientError or
// *PermanentError, except that a candidate with neither endpoint set yields
// a plain error.
func SendMention(ctx context.Context, client *http.Client, c Candidate) error {
	if c.WebmentionEndpoint != "" {
		return sendWebmention(ctx, client, c)
	}
	if c.PingbackEndpoint != "" {
		return sendPingback(ctx, client, c)
	}
	return fmt.Errorf("mentionsender: candidate has neither webmention nor pingback endpoint")
}

func sendWebmention(ctx context.Context, client *http.Client, c Candidate) error {
	form := url.Values{"source": {c.MentionerURL}, "target": {c.MentionedURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.WebmentionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &TransientError{&RemoteError{Code: indeterminateFaultCode, Message: err.Error()}}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return &TransientError{&RemoteError{Code: indeterminateFaultCode, Message: err.Error()}}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransientError{&RemoteError{Code: resp.StatusCode, Message: "webmention endpoint did not report success"}}
	}
	return nil
}

func sendPingback(ctx context.Context, client *http.Client, c Candidate) error {
	body, err := buildPingbackXML(c.MentionerURL, c.MentionedURL)
	if err != nil {
		return &TransientError{&RemoteError{Code: indeterminateFaultCode, Message: err.Error()}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PingbackEndpoint, bytes.NewReader(body))
	if err != nil {
		return &TransientError{&RemoteError{Code: indeterminateFaultCode, Message: err.Error()}}
	}
	req.Header.Set("Content-Type", "text/xml")

	httpResp, err := client.Do(req)
	if err != nil {
		return &TransientError{&RemoteError{Code: indeterminateFaultCode, Message: err.Error()}}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &TransientError{&RemoteError{Code: httpResp.StatusCode, Message: "pingback endpoint did not report success"}}
	}

	resp, err := httpwrap.Wrap(httpResp)
	if err != nil {
		return &TransientError{&RemoteError{Code: indeterminateFaultCode, Message: err.Error()}}
	}
	doc, err := resp.ParsedXML()
	if err != nil {
		return &TransientError{&RemoteError{Code: indeterminateFaultCode, Message: err.Error()}}
	}
	if !doc.IsFault() {
		return nil
	}
	return standardizePingbackFault(doc)
}

// standardizePingbackFault classifies a parsed Pingback fault according to
// the fault-code table: permanent errors are returned as such, the
// "already registered" fault is suppressed (treated as success), and a
// structurally malformed fault — a missing or non-integer faultCode, or a
// missing faultString — is always indeterminate, regardless of what the
// other member held.
func standardizePingbackFault(doc interface {
	FaultMember(string) (*string, *string, bool)
}) error {
	code := indeterminateFaultCode
	message := ""

	_, codeStr, codeOK := doc.FaultMember("faultCode")
	msgStr, _, msgOK := doc.FaultMember("faultString")
	if codeOK && codeStr != nil && msgOK && msgStr != nil {
		if parsed, err := strconv.Atoi(*codeStr); err == nil {
			code = parsed
			message = *msgStr
		}
	}

	switch {
	case permanentFaultCodes[code]:
		return &PermanentError{&RemoteError{Code: code, Message: message}}
	case notActuallyErrors[code]:
		return nil
	default:
		// Covers the documented transient set and any unrecognized or
		// indeterminate code.
		return &TransientError{&RemoteError{Code: code, Message: message}}
	}
}

// pingbackRequest mirrors the XML-RPC methodCall shape for pingback.ping,
// which takes exactly two string parameters: the mentioning URL, then the
// mentioned URL.
type pingbackRequest struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     struct {
		Param []pingbackParam `xml:"param"`
	} `xml:"params"`
}

type pingbackParam struct {
	Value struct {
		String string `xml:"string"`
	} `xml:"value"`
}

func buildPingbackXML(mentioner, mentioned string) ([]byte, error) {
	req := pingbackRequest{MethodName: "pingback.ping"}
	req.Params.Param = []pingbackParam{
		{Value: struct {
			String string `xml:"string"`
		}{String: mentioner}},
		{Value: struct {
			String string `xml:"string"`
		}{String: mentioned}},
	}

	body, err := xml.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mentionsender: building pingback XML: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(body)
	return buf.Bytes(), nil
}
