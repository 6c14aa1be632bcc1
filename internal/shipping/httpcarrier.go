package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
)

const (
	// CarrierFleetShip and CarrierParcelOne are the integrated carriers.
	CarrierFleetShip = "fleetship"
	CarrierParcelOne = "parcelone"

	carrierBodyReadLimit int64 = 2048
)

var (
	errCarrierNameRequired    = errors.New("carrier name is required")
	errCarrierBaseURLRequired = errors.New("carrier base url is required")
	errCarrierKeyRequired     = errors.New("carrier api key is required")
)

// HTTPCarrier talks to a carrier's REST API. FleetShip and ParcelOne expose
// the same quote/label surface, so one client covers both.
type HTTPCarrier struct {
	name       string
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// HTTPCarrierOption configures optional carrier behavior.
type HTTPCarrierOption func(*HTTPCarrier)

// WithCarrierHTTPClient overrides the default HTTP client.
func WithCarrierHTTPClient(client *http.Client) HTTPCarrierOption {
	return func(c *HTTPCarrier) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewHTTPCarrier builds a carrier client against the given API.
func NewHTTPCarrier(name, baseURL, apiKey string, timeout time.Duration, opts ...HTTPCarrierOption) (*HTTPCarrier, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, errCarrierNameRequired
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errCarrierBaseURLRequired
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errCarrierKeyRequired
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	carrier := &HTTPCarrier{
		name:       name,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(carrier)
		}
	}
	return carrier, nil
}

func (c *HTTPCarrier) Name() string {
	return c.name
}

type carrierQuoteRequest struct {
	OrderNumber  string             `json:"order_number"`
	ServiceLevel enums.ServiceLevel `json:"service_level"`
	Region       string             `json:"region"`
	Country      string             `json:"country"`
	PostalCode   string             `json:"postal_code"`
}

type carrierQuoteResponse struct {
	CostCents     int `json:"cost_cents"`
	EstimatedDays int `json:"estimated_days"`
}

// Quote asks the carrier to price the order's shipment.
func (c *HTTPCarrier) Quote(ctx context.Context, order *models.Order) (*Quote, error) {
	if order.ShippingAddress == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no shipping address")
	}
	req := carrierQuoteRequest{
		OrderNumber:  order.OrderNumber,
		ServiceLevel: order.ServiceLevel,
		Region:       order.ShippingAddress.Region,
		Country:      order.ShippingAddress.Country,
		PostalCode:   order.ShippingAddress.PostalCode,
	}
	var resp carrierQuoteResponse
	if err := c.post(ctx, "/v1/quotes", req, &resp); err != nil {
		return nil, err
	}
	if resp.CostCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("carrier %s returned an empty quote", c.name))
	}
	return &Quote{
		Carrier:       c.name,
		ServiceLevel:  order.ServiceLevel,
		CostCents:     resp.CostCents,
		EstimatedDays: resp.EstimatedDays,
	}, nil
}

type carrierLabelRequest struct {
	OrderNumber string `json:"order_number"`
	Destination string `json:"destination"`
}

type carrierLabelResponse struct {
	TrackingNumber string `json:"tracking_number"`
	LabelURL       string `json:"label_url"`
}

// GenerateLabel purchases a label for the order's destination.
func (c *HTTPCarrier) GenerateLabel(ctx context.Context, order *models.Order) (*Label, error) {
	if order.ShippingAddress == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no shipping address")
	}
	req := carrierLabelRequest{
		OrderNumber: order.OrderNumber,
		Destination: order.ShippingAddress.OneLine(),
	}
	var resp carrierLabelResponse
	if err := c.post(ctx, "/v1/labels", req, &resp); err != nil {
		return nil, err
	}
	if resp.TrackingNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("carrier %s returned no tracking number", c.name))
	}
	return &Label{
		Carrier:        c.name,
		TrackingNumber: resp.TrackingNumber,
		LabelURL:       resp.LabelURL,
	}, nil
}

func (c *HTTPCarrier) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal carrier request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build carrier request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err,
			fmt.Sprintf("execute %s request", c.name))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, carrierBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			fmt.Sprintf("%s request failed", c.name))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err,
			fmt.Sprintf("decode %s response", c.name))
	}
	return nil
}
