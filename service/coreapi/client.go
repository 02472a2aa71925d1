package coreapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/antinvestor/daraja-api/service/models"
)

const (
	transactionTypePayBill = "CustomerPayBillOnline"
	timestampLayout        = "20060102150405"

	maxRetries = 2
)

// APIError is a non-2xx answer from the provider, mapped from its error body.
type APIError struct {
	StatusCode int
	Code       string `json:"errorCode"`
	Message    string `json:"errorMessage"`
	RequestID  string `json:"requestId"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daraja api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether retrying the same call can reasonably succeed.
// Rate limits are deliberately not temporary: the caller resubmits instead.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// AccessTokenResponse represents the response structure for token generation
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Client represents the Daraja API client
type Client struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	HttpClient     *http.Client
	Env            string
}

// New creates a new instance of the Daraja API client
func New(consumerKey, consumerSecret, shortCode, passKey, callbackURL, env string) *Client {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:       10,
		IdleConnTimeout:    30 * time.Second,
		DisableCompression: true,
	}

	httpClient := &http.Client{
		Transport: tr,
		Timeout:   30 * time.Second,
	}

	return &Client{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		ShortCode:      shortCode,
		PassKey:        passKey,
		CallbackURL:    callbackURL,
		HttpClient:     httpClient,
		Env:            env,
	}
}

// GenerateAccessToken obtains a client-credentials token for the push call
func (c *Client) GenerateAccessToken(ctx context.Context) (*AccessTokenResponse, error) {
	url := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", c.Env)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, respBody)
	}

	var tokenResponse AccessTokenResponse
	if err := json.Unmarshal(respBody, &tokenResponse); err != nil {
		return nil, err
	}
	return &tokenResponse, nil
}

// Password generates the provider's shortcode credential for a push request
func (c *Client) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.ShortCode + c.PassKey + timestamp))
}

// withCredentials stamps the configured shortcode credentials onto a push
// payload. Callers only supply the transaction fields.
func (c *Client) withCredentials(request models.STKPushRequest) models.STKPushRequest {
	timestamp := time.Now().Format(timestampLayout)
	request.BusinessShortCode = c.ShortCode
	request.Password = c.Password(timestamp)
	request.Timestamp = timestamp
	request.TransactionType = transactionTypePayBill
	request.PartyB = c.ShortCode
	request.CallBackURL = c.CallbackURL
	return request
}

// InitiateSTKPush initiates an STK push request. Timeouts and provider 5xx
// answers are retried a bounded number of times with exponential backoff;
// rate limits and other 4xx answers surface immediately.
func (c *Client) InitiateSTKPush(ctx context.Context, request models.STKPushRequest, accessToken string) (*models.STKPushResponse, error) {
	url := fmt.Sprintf("%s/mpesa/stkpush/v1/processrequest", c.Env)

	jsonBody, err := json.Marshal(c.withCredentials(request))
	if err != nil {
		return nil, err
	}

	var pushResponse *models.STKPushResponse
	operation := func() error {
		pushResponse, err = c.doPush(ctx, url, jsonBody, accessToken)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return pushResponse, nil
}

func (c *Client) doPush(ctx context.Context, url string, jsonBody []byte, accessToken string) (*models.STKPushResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp.StatusCode, respBody)
	}

	var pushResponse models.STKPushResponse
	if err := json.Unmarshal(respBody, &pushResponse); err != nil {
		return nil, err
	}
	if !pushResponse.Accepted() {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       pushResponse.ResponseCode,
			Message:    pushResponse.ResponseDescription,
		}
	}
	return &pushResponse, nil
}

func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := APIError{StatusCode: statusCode}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = string(body)
	}
	return &apiErr
}
