package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPReferenceLookup calls GET {base}/references/{identity}/{reference}.
// 200 carries a ReferenceResult, 404 means the reference is unknown.
type HTTPReferenceLookup struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReferenceLookup builds a lookup client with a per-request timeout.
func NewHTTPReferenceLookup(baseURL string, timeout time.Duration) *HTTPReferenceLookup {
	return &HTTPReferenceLookup{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (l *HTTPReferenceLookup) ValidateReference(ctx context.Context, identity, referenceNo string) (ReferenceResult, error) {
	endpoint := fmt.Sprintf("%s/references/%s/%s", l.baseURL, url.PathEscape(identity), url.PathEscape(referenceNo))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ReferenceResult{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return ReferenceResult{}, fmt.Errorf("reference lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result ReferenceResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return ReferenceResult{}, fmt.Errorf("reference lookup: decode: %w", err)
		}
		return result, nil
	case http.StatusNotFound:
		return ReferenceResult{Valid: false}, nil
	default:
		return ReferenceResult{}, fmt.Errorf("reference lookup: unexpected status %d", resp.StatusCode)
	}
}

// DisabledLookup fails every lookup with ErrLookupDisabled.
type DisabledLookup struct{}

func (DisabledLookup) ValidateReference(context.Context, string, string) (ReferenceResult, error) {
	return ReferenceResult{}, ErrLookupDisabled
}
