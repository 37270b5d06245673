// Package matchmaking exchanges a bearer token for a signed matchmaking
// ticket and uses that ticket to open the matchmaking service stream.
package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jason-s-yu/lobbybot/internal/failure"
)

// Ticket is issued once per attempt and consumed by exactly one Dial.
type Ticket struct {
	Payload    string `json:"payload"`
	Signature  string `json:"signature"`
	TicketType string `json:"ticketType"`
	ServiceURL string `json:"serviceUrl"`
}

// TicketClient requests tickets from the matchmaking HTTP endpoint. It never
// retries: a stale ticket is worthless, so the caller decides what to do.
type TicketClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewTicketClient(baseURL string, httpClient *http.Client) *TicketClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TicketClient{BaseURL: baseURL, HTTPClient: httpClient}
}

// RequestTicket issues GET <base>/{userID}?<query>. Non-200 replies come
// back as a *RejectedError tagged failure.RemoteRejected.
func (c *TicketClient) RequestTicket(ctx context.Context, token, userID string, query url.Values) (*Ticket, error) {
	if userID == "" {
		return nil, failure.New(failure.StateInconsistency, "ticket request without a user id")
	}

	endpoint := strings.TrimSuffix(c.BaseURL, "/") + "/" + url.PathEscape(userID)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, failure.Wrap(err, failure.Parse, "build ticket request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, failure.Wrap(err, failure.Transport, "matchmaking ticket service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Wrap(err, failure.Transport, "read ticket response")
	}

	if resp.StatusCode != http.StatusOK {
		rej := ClassifyResponse(resp.StatusCode, reasonPhrase(resp), resp.Header, body)
		return nil, failure.Wrap(rej, failure.RemoteRejected, "ticket request rejected")
	}

	var t Ticket
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, failure.Wrap(err, failure.Parse, "decode ticket")
	}
	if t.ServiceURL == "" || t.Payload == "" || t.Signature == "" {
		return nil, failure.New(failure.Parse, "ticket response is missing fields")
	}
	return &t, nil
}

// Credential is the MMS Authorization value: ticket type, payload,
// signature and checksum, space-joined in that order.
func Credential(t Ticket, checksum string) string {
	return strings.Join([]string{"Epic-Signed", t.TicketType, t.Payload, t.Signature, checksum}, " ")
}

// reasonPhrase returns "Forbidden" for "403 Forbidden".
func reasonPhrase(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

func (t Ticket) String() string {
	return fmt.Sprintf("%s ticket for %s", t.TicketType, t.ServiceURL)
}
