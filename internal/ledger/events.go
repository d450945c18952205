package ledger

import (
	"fmt"
	"strconv"

	"trustchain.mini/tcm/internal/types"
)

// Classification labels used in REPORT lines.
const (
	ClassAnonymous  = "anonymous"
	ClassIdentified = "identified"
)

func classification(anonymous bool) string {
	if anonymous {
		return ClassAnonymous
	}
	return ClassIdentified
}

// REPORT:<id>:<timestamp>:<classification>
func reportEvent(rec types.ReportRecord, txHash string) types.Event {
	class := classification(rec.Anonymous)
	attrs := map[string]string{
		"report_id":      strconv.FormatUint(rec.ID, 10),
		"timestamp":      strconv.FormatUint(rec.Timestamp, 10),
		"classification": class,
	}
	if txHash != "" {
		attrs["tx_hash"] = txHash
	}
	return types.Event{
		Kind:       types.EventReportSubmitted,
		Line:       fmt.Sprintf("REPORT:%d:%d:%s", rec.ID, rec.Timestamp, class),
		Attributes: attrs,
	}
}

// STATS:total_reports:<n>:version:<v>:admin:<a>
func statsEvent(st types.Stats) types.Event {
	return types.Event{
		Kind: types.EventStats,
		Line: fmt.Sprintf("STATS:total_reports:%d:version:%s:admin:%s", st.TotalReports, st.Version, st.Admin),
		Attributes: map[string]string{
			"total_reports": strconv.FormatUint(st.TotalReports, 10),
			"version":       st.Version,
			"admin":         st.Admin,
		},
	}
}

func lifecycleEvent(action types.Action, g types.GlobalState) types.Event {
	return types.Event{
		Kind: types.EventLifecycle,
		Line: fmt.Sprintf("LIFECYCLE:%s:version:%s:status:%s", action, g.Version, g.Status),
		Attributes: map[string]string{
			"action":  string(action),
			"version": g.Version,
			"status":  string(g.Status),
			"admin":   g.Admin,
		},
	}
}
