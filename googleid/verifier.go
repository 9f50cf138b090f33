// Package googleid verifies Google ID tokens against the tokeninfo
// endpoint and maps the payload to a federated profile.
package googleid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vaultsync/authcore/identity"
)

const defaultEndpoint = "https://oauth2.googleapis.com/tokeninfo"

var ErrInvalidIdentityToken = errors.New("googleid: invalid identity token")

// Verifier checks ID tokens for a single OAuth client (audience). The
// audience is validated at construction so a misconfigured deployment
// fails at startup, not on the first login.
type Verifier struct {
	audience string
	endpoint string
	client   *http.Client
	now      func() time.Time
}

type Option func(*Verifier)

func WithEndpoint(endpoint string) Option {
	return func(v *Verifier) { v.endpoint = endpoint }
}

func WithHTTPClient(client *http.Client) Option {
	return func(v *Verifier) { v.client = client }
}

func New(audience string, opts ...Option) (*Verifier, error) {
	if audience == "" {
		return nil, errors.New("googleid: audience (oauth client id) is required")
	}
	v := &Verifier{
		audience: audience,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// tokeninfo validates the token's signature and structure server-side;
// audience and expiry are re-checked here.
type tokenInfo struct {
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Exp           string `json:"exp"`
}

func (v *Verifier) VerifyIDToken(ctx context.Context, idToken string) (identity.FederatedProfile, error) {
	if idToken == "" {
		return identity.FederatedProfile{}, ErrInvalidIdentityToken
	}

	endpoint := v.endpoint + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return identity.FederatedProfile{}, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return identity.FederatedProfile{}, fmt.Errorf("googleid: tokeninfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return identity.FederatedProfile{}, ErrInvalidIdentityToken
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return identity.FederatedProfile{}, fmt.Errorf("%w: malformed tokeninfo response", ErrInvalidIdentityToken)
	}
	if info.Sub == "" {
		return identity.FederatedProfile{}, fmt.Errorf("%w: missing subject", ErrInvalidIdentityToken)
	}
	if info.Aud != v.audience {
		return identity.FederatedProfile{}, fmt.Errorf("%w: audience mismatch", ErrInvalidIdentityToken)
	}
	if exp, err := strconv.ParseInt(info.Exp, 10, 64); err != nil || !time.Unix(exp, 0).After(v.now()) {
		return identity.FederatedProfile{}, fmt.Errorf("%w: expired", ErrInvalidIdentityToken)
	}

	return identity.FederatedProfile{
		ID:            info.Sub,
		Email:         info.Email,
		DisplayName:   info.Name,
		EmailVerified: info.EmailVerified == "true",
	}, nil
}
