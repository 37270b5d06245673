package matchmaking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrorNameHeader carries the service's symbolic error name.
const ErrorNameHeader = "X-Epic-Error-Name"

// Classification records which branch produced a RejectedError.
type Classification int

const (
	ClassEmpty Classification = iota
	ClassJSON
	ClassErrorHeader
	ClassHTML
	ClassRaw
)

func (c Classification) String() string {
	switch c {
	case ClassEmpty:
		return "empty"
	case ClassJSON:
		return "json"
	case ClassErrorHeader:
		return "error-header"
	case ClassHTML:
		return "html"
	case ClassRaw:
		return "raw"
	}
	return fmt.Sprintf("Classification(%d)", int(c))
}

// RejectedError is a remote refusal: a non-200 ticket reply or a failed
// stream handshake. Code and Message are empty when the service did not
// say anything structured.
type RejectedError struct {
	Status  int
	Reason  string
	Code    string
	Message string
	Body    string
	Class   Classification
}

// Summary is the human-readable line sent to party chat.
func (e *RejectedError) Summary() string {
	return fmt.Sprintf("(status %d %s)", e.Status, e.Reason)
}

func (e *RejectedError) Error() string {
	base := "matchmaking service rejected the request: " + e.Summary()
	switch e.Class {
	case ClassJSON:
		return strings.TrimSpace(fmt.Sprintf("%s, %s %s", base, e.Code, e.Message))
	case ClassErrorHeader:
		return fmt.Sprintf("%s, %s response body: %s", base, e.Code, e.Body)
	case ClassHTML:
		return fmt.Sprintf("%s HTML title: %s", base, e.Message)
	case ClassRaw:
		return fmt.Sprintf("%s response body: %s", base, e.Body)
	}
	return base
}

type errorBody struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// ClassifyResponse turns a refusal into a RejectedError. Branches are tried
// from most to least specific and the first match wins:
// empty body, JSON with errorCode, error-name header, HTML title, raw body.
func ClassifyResponse(status int, reason string, header http.Header, body []byte) *RejectedError {
	rej := &RejectedError{Status: status, Reason: reason, Body: string(body)}

	if len(bytes.TrimSpace(body)) == 0 {
		rej.Class = ClassEmpty
		return rej
	}

	contentType, _, _ := mime.ParseMediaType(header.Get("Content-Type"))

	if contentType == "application/json" {
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err == nil && eb.ErrorCode != "" {
			rej.Class = ClassJSON
			rej.Code = eb.ErrorCode
			rej.Message = eb.ErrorMessage
			return rej
		}
		return raw(rej)
	}

	if name := header.Get(ErrorNameHeader); name != "" {
		rej.Class = ClassErrorHeader
		rej.Code = name
		return rej
	}

	if contentType == "text/html" {
		if title, ok := htmlTitle(body); ok {
			rej.Class = ClassHTML
			rej.Message = title
			return rej
		}
		return raw(rej)
	}

	return raw(rej)
}

func raw(rej *RejectedError) *RejectedError {
	rej.Class = ClassRaw
	rej.Message = rej.Body
	return rej
}

func htmlTitle(body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	title := strings.TrimSpace(doc.Find("head title").First().Text())
	return title, title != ""
}
