package main

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// systemStats summarizes what is live in the store
type systemStats struct {
	TotalAlerts    int       `json:"totalAlerts"`
	ActiveSOS      int       `json:"activeSOS"`
	MissingCases   int       `json:"missingCases"`
	VerifiedAlerts int       `json:"verifiedAlerts"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// collectStats counts live alerts, verified alerts, active SOS broadcasts and open
// missing-person cases. The three listings run concurrently.
func (p *Plugin) collectStats(ctx context.Context, now time.Time) (systemStats, error) {
	var (
		alerts []*crisis.Alert
		sos    []*crisis.SOS
		cases  []*crisis.MissingPerson
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		alerts, err = p.alertStore.ListAlerts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		sos, err = p.sosStore.ListSOS(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		cases, err = p.missingStore.ListCases(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return systemStats{}, err
	}

	stats := systemStats{LastUpdated: now.UTC()}
	for _, alert := range alerts {
		if alert.IsExpired(now) {
			continue
		}
		stats.TotalAlerts++
		if alert.Verification.Verified {
			stats.VerifiedAlerts++
		}
	}
	for _, s := range sos {
		if s.IsActive(now) {
			stats.ActiveSOS++
		}
	}
	for _, m := range cases {
		if m.Status == crisis.CaseStatusMissing && !m.IsExpired(now) {
			stats.MissingCases++
		}
	}

	return stats, nil
}

func (p *Plugin) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := p.collectStats(r.Context(), time.Now())
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, stats)
}
