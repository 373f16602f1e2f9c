package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/telemetry"
	"github.com/vaidashi/storefront-sync/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
	"github.com/vaidashi/storefront-sync/pkg/logger"
	"github.com/vaidashi/storefront-sync/pkg/retry"
)

// CarrierClient fetches live rates from a carrier aggregation API
type CarrierClient struct {
	baseURL     string
	httpClient  *http.Client
	logger      logger.Logger
	retryConfig *retry.RetryConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// ratesResponse is the body returned by POST /rates
type ratesResponse struct {
	Rates     []models.ShippingQuote `json:"rates,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// NewCarrierClient creates a new CarrierClient instance
func NewCarrierClient(baseURL string, logger logger.Logger) *CarrierClient {
	httpClient := &http.Client{
		Timeout:   5 * time.Second,
		Transport: telemetry.Transport(nil),
	}

	retryConfig := &retry.RetryConfig{
		MaxAttempts: 3,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      1.5,
			JitterFactor:    0.2,
		},
		Logger: logger,
		RetryableErrors: []error{
			apperrors.ErrTimeout,
			apperrors.ErrUnavailable,
		},
	}

	return &CarrierClient{
		baseURL:     baseURL,
		httpClient:  httpClient,
		logger:      logger,
		retryConfig: retryConfig,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 1,
		}),
	}
}

// WithRetry overrides the retry policy
func (c *CarrierClient) WithRetry(cfg *retry.RetryConfig) *CarrierClient {
	c.retryConfig = cfg
	return c
}

// Breaker exposes the circuit breaker guarding the carrier API
func (c *CarrierClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// Rates asks the carrier API for quotes. The whole retried exchange counts as one call
// against the circuit breaker.
func (c *CarrierClient) Rates(ctx context.Context, req Request) ([]models.ShippingQuote, error) {
	var rates []models.ShippingQuote

	err := c.breaker.Execute(func() error {
		return retry.Retry(ctx, func() error {
			var err error
			rates, err = c.fetchRates(ctx, req)
			return err
		}, c.retryConfig)
	})

	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, apperrors.NewTemporaryError("carrier API circuit open")
		}
		c.logger.Error("Failed to fetch carrier rates after retries", "error", err, "zip", req.Destination.Zip)
		return nil, err
	}

	return rates, nil
}

func (c *CarrierClient) fetchRates(ctx context.Context, request Request) ([]models.ShippingQuote, error) {
	url := fmt.Sprintf("%s/rates", c.baseURL)

	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, apperrors.NewTimeoutError("carrier rates request timed out")
		}
		return nil, apperrors.NewTemporaryError(fmt.Sprintf("failed to send request: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to read response body: %v", err))
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
			return nil, apperrors.NewTimeoutError("carrier rates request timed out")
		}

		if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusInternalServerError {
			return nil, apperrors.NewTemporaryError(fmt.Sprintf("carrier service error: %d", resp.StatusCode))
		}

		return nil, apperrors.NewAppError(
			apperrors.ErrInternal,
			fmt.Sprintf("carrier service returned error: %d", resp.StatusCode),
			resp.StatusCode,
			false,
		)
	}

	response := &ratesResponse{}
	if err := json.Unmarshal(body, response); err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to parse response: %v", err))
	}

	if response.Error != "" {
		if response.Code == "TIMEOUT" {
			return nil, apperrors.NewTimeoutError(response.Error)
		}
		return nil, apperrors.NewTemporaryError(response.Error)
	}

	return response.Rates, nil
}
