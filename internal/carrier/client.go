package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxLabelBytes = 10 << 20

// HTTPClient talks to the carrier's REST API.
type HTTPClient struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
	}
}

func (c *HTTPClient) CreateShipment(ctx context.Context, req ShipmentRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "create shipment", http.MethodPost, "/shipments", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &Error{Op: "create shipment", StatusCode: http.StatusOK, Message: "response has no shipment id"}
	}
	return out.ID, nil
}

func (c *HTTPClient) ListOffers(ctx context.Context, shipmentID string) ([]Offer, error) {
	var out struct {
		Offers []Offer `json:"offers"`
	}
	path := "/shipments/" + url.PathEscape(shipmentID) + "/offers"
	if err := c.do(ctx, "list offers", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Offers, nil
}

func (c *HTTPClient) AcceptOffer(ctx context.Context, offerID string) (*Acceptance, error) {
	var out Acceptance
	path := "/offers/" + url.PathEscape(offerID) + "/accept"
	if err := c.do(ctx, "accept offer", http.MethodPost, path, struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.TransactionID == "" {
		return nil, &Error{Op: "accept offer", StatusCode: http.StatusOK, Message: "response has no transaction id"}
	}
	return &out, nil
}

func (c *HTTPClient) GetTracking(ctx context.Context, shipmentID string) (*Tracking, error) {
	var out Tracking
	path := "/shipments/" + url.PathEscape(shipmentID) + "/tracking"
	if err := c.do(ctx, "get tracking", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadLabel fetches a label by its URL and returns the body with its
// content type.
func (c *HTTPClient) DownloadLabel(ctx context.Context, labelURL string, format LabelFormat) ([]byte, string, error) {
	const op = "download label"
	if format != LabelPDF && format != LabelHTML {
		return nil, "", &Error{Op: op, Message: fmt.Sprintf("unsupported label format %q", format)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, labelURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	if c.sameHost(req.URL) {
		c.authorize(req)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, "", &Error{Op: op, Message: "request failed", Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", decodeError(op, resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLabelBytes+1))
	if err != nil {
		return nil, "", &Error{Op: op, StatusCode: resp.StatusCode, Message: "read body", Detail: err.Error(), Err: err}
	}
	if len(body) > maxLabelBytes {
		return nil, "", &Error{Op: op, StatusCode: resp.StatusCode, Message: "label too large"}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
		if format == LabelHTML {
			contentType = "text/html; charset=utf-8"
		}
	}
	return body, contentType, nil
}

// sameHost reports whether u points at the carrier API itself. Labels are
// often served from a CDN, which must not see the API key.
func (c *HTTPClient) sameHost(u *url.URL) bool {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Host, u.Host)
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.Client.Do(req)
	if err != nil {
		return &Error{Op: op, Message: "request failed", Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "decode body", Detail: err.Error(), Err: err}
	}
	return nil
}

func decodeError(op string, resp *http.Response) *Error {
	e := &Error{Op: op, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
		Detail  string `json:"additionalMessage"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		e.Message = body.Message
		e.Detail = body.Detail
	} else if s := strings.TrimSpace(string(raw)); s != "" {
		e.Detail = s
	}
	return e
}
