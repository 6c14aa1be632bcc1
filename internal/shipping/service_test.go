package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oakmart/oakmart-backend/pkg/config"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

func testOrder(level enums.ServiceLevel, region string) *models.Order {
	return &models.Order{
		OrderNumber:  "ORD-SHIPTEST1",
		ServiceLevel: level,
		ShippingAddress: &types.Address{
			Name:       "Avery Chen",
			Line1:      "12 Birch Lane",
			City:       "Portland",
			Region:     region,
			PostalCode: "97201",
			Country:    "US",
		},
	}
}

func quoteServer(t *testing.T, costCents, days int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/quotes":
			_ = json.NewEncoder(w).Encode(map[string]int{"cost_cents": costCents, "estimated_days": days})
		case "/v1/labels":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"tracking_number": "TRK123456",
				"label_url":       "https://labels.test/TRK123456.pdf",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func newCarrier(t *testing.T, name, baseURL string) Carrier {
	t.Helper()
	carrier, err := NewHTTPCarrier(name, baseURL, "key", 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPCarrier: %v", err)
	}
	return carrier
}

func newShippingService(t *testing.T, cfg config.ShippingConfig, carriers ...Carrier) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Carriers: carriers, Config: cfg})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestQuotesSortedCheapestFirst(t *testing.T) {
	t.Parallel()

	cheap := quoteServer(t, 900, 6)
	defer cheap.Close()
	pricey := quoteServer(t, 1500, 3)
	defer pricey.Close()

	svc := newShippingService(t, config.ShippingConfig{},
		newCarrier(t, CarrierFleetShip, pricey.URL),
		newCarrier(t, CarrierParcelOne, cheap.URL),
	)

	quotes, err := svc.Quotes(context.Background(), testOrder(enums.ServiceLevelStandard, "OR"))
	if err != nil {
		t.Fatalf("Quotes: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected two quotes, got %d", len(quotes))
	}
	if quotes[0].Carrier != CarrierParcelOne || quotes[0].CostCents != 900 {
		t.Fatalf("cheapest quote first expected, got %+v", quotes)
	}
}

func TestQuotesToleratesSingleCarrierFailure(t *testing.T) {
	t.Parallel()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	healthy := quoteServer(t, 1100, 5)
	defer healthy.Close()

	svc := newShippingService(t, config.ShippingConfig{},
		newCarrier(t, CarrierFleetShip, broken.URL),
		newCarrier(t, CarrierParcelOne, healthy.URL),
	)

	quotes, err := svc.Quotes(context.Background(), testOrder(enums.ServiceLevelStandard, "OR"))
	if err != nil {
		t.Fatalf("Quotes: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Carrier != CarrierParcelOne {
		t.Fatalf("expected only the healthy carrier, got %+v", quotes)
	}
}

func TestQuotesFallBackWhenAllCarriersFail(t *testing.T) {
	t.Parallel()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	svc := newShippingService(t, config.ShippingConfig{},
		newCarrier(t, CarrierFleetShip, broken.URL),
	)

	quotes, err := svc.Quotes(context.Background(), testOrder(enums.ServiceLevelExpress, "OR"))
	if err != nil {
		t.Fatalf("Quotes: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Carrier != "flat-rate" || quotes[0].ServiceLevel != enums.ServiceLevelExpress {
		t.Fatalf("expected express fallback rate, got %+v", quotes)
	}
}

func TestLabelRoutesToNamedCarrier(t *testing.T) {
	t.Parallel()

	srv := quoteServer(t, 1000, 5)
	defer srv.Close()

	svc := newShippingService(t, config.ShippingConfig{}, newCarrier(t, CarrierFleetShip, srv.URL))
	label, err := svc.Label(context.Background(), "FleetShip", testOrder(enums.ServiceLevelStandard, "OR"))
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if label.TrackingNumber != "TRK123456" || label.Carrier != CarrierFleetShip {
		t.Fatalf("unexpected label: %+v", label)
	}

	if _, err := svc.Label(context.Background(), "pigeon-post", testOrder(enums.ServiceLevelStandard, "OR")); err == nil {
		t.Fatal("expected unknown carrier error")
	}
}

func TestEstimateDeliveryAppliesLevelAndRemoteSurcharge(t *testing.T) {
	t.Parallel()

	srv := quoteServer(t, 1000, 5)
	defer srv.Close()

	cfg := config.ShippingConfig{
		BaseLeadTimeDays:    5,
		ExpressLeadTimeDays: 2,
		RemoteSurchargeDays: 3,
		RemoteRegions:       "AK,HI",
	}
	svc := newShippingService(t, cfg, newCarrier(t, CarrierFleetShip, srv.URL))
	shippedAt := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		level    enums.ServiceLevel
		region   string
		wantDays int
	}{
		{"standard", enums.ServiceLevelStandard, "OR", 5},
		{"express", enums.ServiceLevelExpress, "OR", 2},
		{"standard remote", enums.ServiceLevelStandard, "AK", 8},
		{"express remote", enums.ServiceLevelExpress, "hi", 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := svc.EstimateDelivery(testOrder(tc.level, tc.region), shippedAt)
			want := shippedAt.AddDate(0, 0, tc.wantDays)
			if !got.Equal(want) {
				t.Fatalf("estimate = %s, want %s", got, want)
			}
		})
	}
}
