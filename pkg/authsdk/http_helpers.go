package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// url builds the endpoint URL for method, carrying the API key as the key
// query parameter.
func (c *SDKClient) url(method string) string {
	q := url.Values{"key": {c.APIKey}}
	return c.BaseURL + "/v1/" + method + "?" + q.Encode()
}

// call POSTs in as JSON to method and decodes a 2xx answer into out. out may be
// nil when the response body is irrelevant.
func (c *SDKClient) call(ctx context.Context, method string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(method), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return ErrNetworkRequestFailed.WithMessage(err.Error())
	}

	return decodeJSON(resp, out)
}

// decodeJSON decodes a JSON response into target, returning a typed
// *AuthError for any non-2xx status.
func decodeJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrNetworkRequestFailed.WithMessage("failed to read response body: " + err.Error())
	}

	if err := parseErrorResponse(resp, bodyBytes); err != nil {
		return err
	}
	if target == nil || len(bodyBytes) == 0 {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return ErrInternal.WithMessage("failed to decode response: " + err.Error())
	}
	return nil
}
