package shipping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/oakmart/oakmart-backend/pkg/config"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
)

// fallbackRates is the static rate card used when every carrier is down.
var fallbackRates = map[enums.ServiceLevel]Quote{
	enums.ServiceLevelStandard: {Carrier: "flat-rate", ServiceLevel: enums.ServiceLevelStandard, CostCents: 1299, EstimatedDays: 7},
	enums.ServiceLevelExpress:  {Carrier: "flat-rate", ServiceLevel: enums.ServiceLevelExpress, CostCents: 2499, EstimatedDays: 3},
}

// ServiceParams groups dependencies for the shipping service.
type ServiceParams struct {
	Carriers []Carrier
	Config   config.ShippingConfig
	Logg     *logger.Logger
}

// Service fans quote requests out to the configured carriers and owns the
// delivery estimation rules.
type Service struct {
	carriers      []Carrier
	quoteTimeout  time.Duration
	baseLeadDays  int
	expressDays   int
	remoteSurDays int
	remoteRegions map[string]struct{}
	logg          *logger.Logger
}

// NewService builds the shipping service.
func NewService(params ServiceParams) (*Service, error) {
	if len(params.Carriers) == 0 {
		return nil, errors.New("at least one carrier is required")
	}
	quoteTimeout := params.Config.QuoteTimeout
	if quoteTimeout <= 0 {
		quoteTimeout = 10 * time.Second
	}
	baseLeadDays := params.Config.BaseLeadTimeDays
	if baseLeadDays <= 0 {
		baseLeadDays = 5
	}
	expressDays := params.Config.ExpressLeadTimeDays
	if expressDays <= 0 {
		expressDays = 2
	}
	remoteSurDays := params.Config.RemoteSurchargeDays
	if remoteSurDays < 0 {
		remoteSurDays = 0
	}
	return &Service{
		carriers:      params.Carriers,
		quoteTimeout:  quoteTimeout,
		baseLeadDays:  baseLeadDays,
		expressDays:   expressDays,
		remoteSurDays: remoteSurDays,
		remoteRegions: params.Config.RemoteRegionSet(),
		logg:          params.Logg,
	}, nil
}

// Quotes collects offers from every carrier, cheapest first. A carrier that
// errors is skipped and its failure logged; when all of them fail the static
// fallback rate for the order's service level is returned instead, so the
// pipeline never stalls on carrier outages.
func (s *Service) Quotes(ctx context.Context, order *models.Order) ([]Quote, error) {
	quotes := make([]Quote, 0, len(s.carriers))
	var failures error
	for _, carrier := range s.carriers {
		quote, err := s.quoteOne(ctx, carrier, order)
		if err != nil {
			failures = multierr.Append(failures, fmt.Errorf("%s: %w", carrier.Name(), err))
			continue
		}
		quotes = append(quotes, *quote)
	}

	if failures != nil && s.logg != nil {
		s.logg.Warn(ctx, fmt.Sprintf("carrier quotes degraded for order %s: %v", order.OrderNumber, failures))
	}
	if len(quotes) == 0 {
		fallback, ok := fallbackRates[order.ServiceLevel]
		if !ok {
			fallback = fallbackRates[enums.ServiceLevelStandard]
		}
		if s.logg != nil {
			s.logg.Warn(ctx, fmt.Sprintf("all carriers failed for order %s, using fallback rate", order.OrderNumber))
		}
		return []Quote{fallback}, nil
	}

	sort.Slice(quotes, func(i, j int) bool { return quotes[i].CostCents < quotes[j].CostCents })
	return quotes, nil
}

func (s *Service) quoteOne(ctx context.Context, carrier Carrier, order *models.Order) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.quoteTimeout)
	defer cancel()
	return carrier.Quote(ctx, order)
}

// Label purchases a label from the named carrier.
func (s *Service) Label(ctx context.Context, carrierName string, order *models.Order) (*Label, error) {
	carrierName = strings.ToLower(strings.TrimSpace(carrierName))
	for _, carrier := range s.carriers {
		if carrier.Name() == carrierName {
			return carrier.GenerateLabel(ctx, order)
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation,
		fmt.Sprintf("unknown carrier %q", carrierName))
}

// EstimateDelivery projects the delivery date from the ship time: base lead
// time by service level plus the remote-region surcharge.
func (s *Service) EstimateDelivery(order *models.Order, shippedAt time.Time) time.Time {
	days := s.baseLeadDays
	if order.ServiceLevel == enums.ServiceLevelExpress {
		days = s.expressDays
	}
	if s.isRemote(order) {
		days += s.remoteSurDays
	}
	return shippedAt.AddDate(0, 0, days)
}

func (s *Service) isRemote(order *models.Order) bool {
	if order.ShippingAddress == nil {
		return false
	}
	region := strings.ToLower(strings.TrimSpace(order.ShippingAddress.Region))
	_, ok := s.remoteRegions[region]
	return ok
}
