package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

const (
	sandboxBaseURL = "https://sandbox.sslcommerz.com"
	liveBaseURL    = "https://securepay.sslcommerz.com"
	initPath       = "/gwprocess/v4/api.php"
	validationPath = "/validator/api/validationserverAPI.php"

	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// Defaults sent for optional customer fields the gateway requires.
const (
	defaultAddress  = "Dhaka"
	defaultCity     = "Dhaka"
	defaultState    = "Dhaka"
	defaultPostcode = "1000"
	defaultCountry  = "Bangladesh"
)

type Config struct {
	StoreID       string
	StorePassword string
	Live          bool
	// BaseURL overrides the sandbox/live host when set.
	BaseURL string
	Timeout time.Duration
}

type SSLCommerzAdapter struct {
	cfg     Config
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

func NewSSLCommerzAdapter(cfg Config, logger *zap.Logger) *SSLCommerzAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sandboxBaseURL
		if cfg.Live {
			baseURL = liveBaseURL
		}
	}

	logger = logger.With(zap.String("component", "sslcommerz"))

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "sslcommerz",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrGatewayRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &SSLCommerzAdapter{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

type initResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

type validationResponse struct {
	Status   string `json:"status"`
	TranID   string `json:"tran_id"`
	ValID    string `json:"val_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (a *SSLCommerzAdapter) Initiate(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentSession, error) {
	form := a.initForm(req)

	result, err := a.execute(func() (any, error) {
		var resp initResponse
		if err := a.do(ctx, http.MethodPost, a.baseURL+initPath, form, &resp); err != nil {
			return nil, err
		}
		if !strings.EqualFold(resp.Status, "SUCCESS") || resp.GatewayPageURL == "" {
			reason := resp.FailedReason
			if reason == "" {
				reason = "no gateway page returned"
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrGatewayRejected, reason)
		}
		return &resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp := result.(*initResponse)
	return &domain.PaymentSession{
		RedirectURL: resp.GatewayPageURL,
		SessionKey:  resp.SessionKey,
	}, nil
}

func (a *SSLCommerzAdapter) Verify(ctx context.Context, token string) (*domain.Verification, error) {
	query := url.Values{
		"val_id":       {token},
		"store_id":     {a.cfg.StoreID},
		"store_passwd": {a.cfg.StorePassword},
		"v":            {"1"},
		"format":       {"json"},
	}

	result, err := a.execute(func() (any, error) {
		var resp validationResponse
		if err := a.do(ctx, http.MethodGet, a.baseURL+validationPath+"?"+query.Encode(), nil, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp := result.(*validationResponse)

	amount := decimal.Zero
	if resp.Amount != "" {
		amount, err = decimal.NewFromString(resp.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed amount %q", domain.ErrGatewayUnavailable, resp.Amount)
		}
	}

	return &domain.Verification{
		Status:         verificationStatus(resp.Status),
		RawStatus:      resp.Status,
		TransactionRef: resp.TranID,
		Amount:         amount,
		Currency:       resp.Currency,
	}, nil
}

func (a *SSLCommerzAdapter) execute(fn func() (any, error)) (any, error) {
	result, err := a.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return result, err
}

func (a *SSLCommerzAdapter) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}

	return nil
}

func (a *SSLCommerzAdapter) initForm(req domain.PaymentRequest) url.Values {
	c := req.Customer
	address := orDefault(c.Address, defaultAddress)
	city := orDefault(c.City, defaultCity)
	state := orDefault(c.State, defaultState)
	postcode := orDefault(c.Postcode, defaultPostcode)

	return url.Values{
		"store_id":         {a.cfg.StoreID},
		"store_passwd":     {a.cfg.StorePassword},
		"total_amount":     {req.Amount.StringFixed(2)},
		"currency":         {req.Currency},
		"tran_id":          {req.TransactionRef},
		"success_url":      {req.Callbacks.Success},
		"fail_url":         {req.Callbacks.Fail},
		"cancel_url":       {req.Callbacks.Cancel},
		"ipn_url":          {req.Callbacks.IPN},
		"shipping_method":  {"NO"},
		"product_name":     {req.ProductName},
		"product_category": {"Electronic"},
		"product_profile":  {"general"},
		"cus_name":         {c.Name},
		"cus_email":        {c.Email},
		"cus_add1":         {address},
		"cus_city":         {city},
		"cus_state":        {state},
		"cus_postcode":     {postcode},
		"cus_country":      {defaultCountry},
		"cus_phone":        {c.Phone},
		"ship_name":        {c.Name},
		"ship_add1":        {address},
		"ship_city":        {city},
		"ship_state":       {state},
		"ship_postcode":    {postcode},
		"ship_country":     {defaultCountry},
	}
}

func verificationStatus(raw string) domain.VerificationStatus {
	switch strings.ToUpper(raw) {
	case "VALID", "VALIDATED":
		return domain.VerificationValid
	case "INVALID_TRANSACTION", "FAILED", "CANCELLED", "EXPIRED":
		return domain.VerificationRejected
	}
	return domain.VerificationInconclusive
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
