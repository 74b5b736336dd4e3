package graphqlapi

import "relaycast/internal/models"

// dashboardView is the read-only aggregate served on /api-dashboard: count
// of live Restreams (those with at least one Online output), count of
// Unstable input endpoints and outputs together, and a per-Restream output
// status summary, computed fresh from the current document by folding it
// down into counters rather than exposing the tree.
type dashboardView struct {
	LiveRestreams     int
	UnstableEndpoints int
	RestreamSummaries []restreamSummary
}

type restreamSummary struct {
	RestreamID    string
	Key           string
	OutputsOnline int
	OutputsTotal  int
}

func buildDashboard(doc models.Document) dashboardView {
	view := dashboardView{}
	for _, restream := range doc.Restreams {
		summary := restreamSummary{RestreamID: restream.ID, Key: restream.Key, OutputsTotal: len(restream.Outputs)}
		restreamLive := false
		for _, output := range restream.Outputs {
			if output.Status == models.StatusOnline {
				summary.OutputsOnline++
				restreamLive = true
			}
		}
		if restreamLive {
			view.LiveRestreams++
		}
		for _, ep := range restream.Input.Endpoints {
			if ep.Status == models.StatusUnstable {
				view.UnstableEndpoints++
			}
		}
		for _, output := range restream.Outputs {
			if output.Status == models.StatusUnstable {
				view.UnstableEndpoints++
			}
		}
		view.RestreamSummaries = append(view.RestreamSummaries, summary)
	}
	return view
}
