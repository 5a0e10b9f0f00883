package tools

import (
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	layoutInput = "2006-01-02T15:04"
	layoutDB    = "2006-01-02 15:04:05"
)

var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
)

// Prevent out-of-network requests to dashboard endpoints
func CheckInNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil {
			http.Error(w, "Invalid IP address", http.StatusBadRequest)
			return
		}
		if !IsLocalAddress(ip) {
			logrus.Warnf("Rejected request from %s", ip)
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func IsLocalAddress(ip net.IP) bool {
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(blocks ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blocks))
	for _, block := range blocks {
		_, cidr, err := net.ParseCIDR(block)
		if err != nil {
			panic(err)
		}
		nets = append(nets, cidr)
	}
	return nets
}

// Get the start and end dates from the request, format them for comparison
// with the DB. Form values are read in loc; the DB is in UTC. Without both
// values the range is the last 8 hours.
func ParseStartAndEndDate(r *http.Request, loc *time.Location) (string, string) {
	r.ParseForm()
	now := time.Now().UTC()
	startDate := now.Add(-8 * time.Hour).Format(layoutDB)
	endDate := now.Format(layoutDB)

	start, end := r.FormValue("start"), r.FormValue("end")
	if start == "" || end == "" {
		return startDate, endDate
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(layoutInput, start, loc); err != nil {
		logrus.Warnf("Error parsing start date %q: %v", start, err)
	} else {
		startDate = t.UTC().Format(layoutDB)
	}
	if t, err := time.ParseInLocation(layoutInput, end, loc); err != nil {
		logrus.Warnf("Error parsing end date %q: %v", end, err)
	} else {
		endDate = t.UTC().Format(layoutDB)
	}
	return startDate, endDate
}

func StartAndEndDateToTime(startDate string, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(layoutDB, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(layoutDB, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
