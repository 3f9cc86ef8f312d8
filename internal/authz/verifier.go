package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/codefionn/ictchat/internal/chaterr"
	"github.com/codefionn/ictchat/internal/models"
)

// UserDetails is the user_details object of a verification response.
type UserDetails struct {
	Role     string     `json:"role"`
	App      string     `json:"app"`
	Access   AccessList `json:"access"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
}

// VerifyResponse is the body returned by the verification endpoint.
type VerifyResponse struct {
	Valid       bool        `json:"valid"`
	Error       string      `json:"error,omitempty"`
	UserID      models.ID   `json:"user_id"`
	UserDetails UserDetails `json:"user_details"`
}

// Verifier validates a token remotely.
type Verifier interface {
	Verify(ctx context.Context, token string) (*VerifyResponse, error)
}

// HTTPVerifier posts {"token": ...} to URL.
type HTTPVerifier struct {
	URL    string
	Client *http.Client
}

// NewHTTPVerifier creates a verifier with the given per-request timeout.
func NewHTTPVerifier(url string, timeout time.Duration) *HTTPVerifier {
	return &HTTPVerifier{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Verify implements Verifier. Transport failures and non-2xx statuses are
// chaterr.Transport; an undecodable body is chaterr.Protocol.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*VerifyResponse, error) {
	const op = "authz.verify"

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, chaterr.Wrap(chaterr.KindProtocol, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, bytes.NewReader(body))
	if err != nil {
		return nil, chaterr.Wrap(chaterr.KindTransport, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.KindTransport, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, chaterr.HTTPStatus(op, resp.StatusCode)
	}

	var out VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, chaterr.Wrap(chaterr.KindProtocol, op, err)
	}
	return &out, nil
}
