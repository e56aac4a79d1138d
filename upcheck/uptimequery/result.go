package uptimequery

// Status classifies the outcome of querying one host.
type Status string

const (
	// StatusOK means the host was reached and returned a usable boot time.
	StatusOK Status = "OK"

	// StatusError means the host was reached but the boot-time query failed
	// or returned nothing.
	StatusError Status = "ERROR"

	// StatusOffline means the connection attempt failed.
	StatusOffline Status = "OFFLINE"
)

// StartTimeUnavailable is reported as StartTime when a host's boot time could
// not be determined.
const StartTimeUnavailable = "0"

// StartTimeLayout formats the boot timestamp of reachable hosts.
const StartTimeLayout = "2006-01-02 15:04:05"

// HostUptimeResult is the record emitted for each queried host. Exactly one is
// produced per input name, in input order.
type HostUptimeResult struct {
	ComputerName     string  `json:"computerName"`
	StartTime        string  `json:"startTime"`
	UptimeDays       float64 `json:"uptimeDays"`
	Status           Status  `json:"status"`
	MightNeedPatched bool    `json:"mightNeedPatched"`
}
