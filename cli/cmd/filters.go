package cmd

import (
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tracely/pulse/services/pulse"
)

// addFilterFlags registers the span filter flags. withRange adds the time
// range flags as well.
func addFilterFlags(cmd *cobra.Command, withRange bool) {
	cmd.Flags().String("service", "", "Only spans from this service")
	cmd.Flags().StringSlice("status", nil, "Status groups to keep (2xx, 3xx, 4xx, 5xx)")
	cmd.Flags().String("search", "", "Case-insensitive match on endpoint or span name")
	cmd.Flags().String("env", "", "Only spans from this environment")
	if withRange {
		cmd.Flags().String("range", "", "Time range preset (5m, 15m, 30m, 1h, 3h, 6h, 12h, 24h) or live")
		cmd.Flags().String("start", "", "Range start (RFC 3339)")
		cmd.Flags().String("end", "", "Range end (RFC 3339)")
	}
}

// filtersFromFlags validates the filter flags the same way the server
// validates query parameters.
func filtersFromFlags(cmd *cobra.Command) (pulse.Filters, error) {
	q := url.Values{}
	for _, name := range []string{"service", "search", "env", "range", "start", "end"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Value.String() != "" {
			q.Set(name, f.Value.String())
		}
	}
	if groups, err := cmd.Flags().GetStringSlice("status"); err == nil && len(groups) > 0 {
		q.Set("status", strings.Join(groups, ","))
	}
	return pulse.ParseFilters(q)
}
