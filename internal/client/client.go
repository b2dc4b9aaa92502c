// Package client is a Go client for the nilsignal RPC protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
)

// Client posts RPC envelopes to a nilsignal server.
type Client struct {
	url string
	hc  *http.Client
}

// Error is a non-200 response from the server.
type Error struct {
	Status int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Msg)
}

// NotFound checks if the error is a missing channel or a channel field
// that hasn't been set yet.
func (e *Error) NotFound() bool {
	return strings.HasSuffix(e.Msg, "not found")
}

// IsNotFound checks if err is a not-found *Error.
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.NotFound()
}

// New returns a new Client. If hc is nil, http.DefaultClient is used.
func New(url string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{url: url, hc: hc}
}

// CreateDataChannel creates a new channel and returns its ID.
func (c *Client) CreateDataChannel(ctx context.Context) (string, error) {
	var out struct {
		ChannelID string `json:"channel_id"`
	}
	if err := c.call(ctx, "create_data_channel", nil, &out); err != nil {
		return "", err
	}
	return out.ChannelID, nil
}

// CreateOffer sets a channel's offer.
func (c *Client) CreateOffer(ctx context.Context, id, offer string) error {
	return c.call(ctx, "create_offer", map[string]interface{}{"channel_id": id, "offer": offer}, nil)
}

// GetOffer returns a channel's offer.
func (c *Client) GetOffer(ctx context.Context, id string) (string, error) {
	var out struct {
		Offer string `json:"offer"`
	}
	err := c.call(ctx, "get_offer", map[string]interface{}{"channel_id": id}, &out)
	return out.Offer, err
}

// CreateCandidate appends a candidate to a channel. The candidate can be
// any JSON encodable value.
func (c *Client) CreateCandidate(ctx context.Context, id string, candidate interface{}) error {
	return c.call(ctx, "create_candidate", map[string]interface{}{"channel_id": id, "candidate": candidate}, nil)
}

// GetCandidates returns all of a channel's candidates in the order they
// were added.
func (c *Client) GetCandidates(ctx context.Context, id string) ([]json.RawMessage, error) {
	var out struct {
		Items []json.RawMessage `json:"items"`
	}
	err := c.call(ctx, "get_candidates", map[string]interface{}{"channel_id": id}, &out)
	return out.Items, err
}

// CreateAnswer sets a channel's answer. Only the first answer is accepted.
func (c *Client) CreateAnswer(ctx context.Context, id, answer string) error {
	return c.call(ctx, "create_answer", map[string]interface{}{"channel_id": id, "answer": answer}, nil)
}

// GetAnswer returns a channel's answer.
func (c *Client) GetAnswer(ctx context.Context, id string) (string, error) {
	var out struct {
		Answer string `json:"answer"`
	}
	err := c.call(ctx, "get_answer", map[string]interface{}{"channel_id": id}, &out)
	return out.Answer, err
}

// Echo sends the given fields and returns the envelope echoed back.
func (c *Client) Echo(ctx context.Context, fields map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.call(ctx, "echo", fields, &out)
	return out, err
}

// call posts an envelope and decodes a JSON response into out, if it's
// not nil.
func (c *Client) call(ctx context.Context, method string, fields map[string]interface{}, out interface{}) error {
	env := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		env[k] = v
	}
	env["method"] = method

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Msg: string(body)}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", method, err)
	}
	return nil
}
