// Package dashboard assembles the farmer home screen from the alert and
// market-rate flows.
package dashboard

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"kisanbazaar/internal/flow"
)

// Flows is the subset of the flow gateway the dashboard needs.
type Flows interface {
	DashboardAlerts(ctx context.Context, in flow.AlertsInput) (flow.AlertsOutput, error)
	MarketRates(ctx context.Context) (flow.MarketRatesOutput, error)
}

type Snapshot struct {
	Alerts []flow.Alert      `json:"alerts"`
	Crops  []flow.MarketCrop `json:"crops"`
}

type Service struct {
	flows Flows
}

func NewService(f Flows) *Service {
	return &Service{flows: f}
}

// Load fetches alerts and market rates concurrently. The first failure
// cancels the other call and is returned.
func (s *Service) Load(ctx context.Context, location string, crops []string) (Snapshot, error) {
	var snap Snapshot
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		out, err := s.flows.DashboardAlerts(ctx, flow.AlertsInput{Location: location, Crops: crops})
		if err != nil {
			return err
		}
		snap.Alerts = out.Alerts
		return nil
	})
	p.Go(func(ctx context.Context) error {
		out, err := s.flows.MarketRates(ctx)
		if err != nil {
			return err
		}
		snap.Crops = out.Crops
		return nil
	})
	if err := p.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
