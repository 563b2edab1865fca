package tools

import (
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	layoutInput = "2006-01-02T15:04"
	layoutDB    = "2006-01-02 15:04:05"
)

// Prevent out-of-network requests to dashboard endpoints
func CheckInNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		parsedIP := net.ParseIP(ip)
		if parsedIP == nil {
			http.Error(w, "Invalid IP address", http.StatusBadRequest)
			return
		}
		if !parsedIP.IsPrivate() && !parsedIP.IsLoopback() {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Get the start and end dates from the request, format them for comparison with the DB.
// Form values are read in location; the default range is the last 8 hours.
func ParseStartAndEndDate(r *http.Request, location string) (string, string) {
	r.ParseForm()
	now := time.Now().UTC()
	startDate := now.Add(-8 * time.Hour).Format(layoutDB)
	endDate := now.Format(layoutDB)
	if r.FormValue("start") == "" || r.FormValue("end") == "" {
		return startDate, endDate
	}

	loc, err := time.LoadLocation(location)
	if err != nil {
		log.Warnf("Unknown location %q, using UTC", location)
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(layoutInput, r.FormValue("start"), loc); err != nil {
		log.Warnln("Error parsing start date:", err)
	} else {
		startDate = t.UTC().Format(layoutDB)
	}
	if t, err := time.ParseInLocation(layoutInput, r.FormValue("end"), loc); err != nil {
		log.Warnln("Error parsing end date:", err)
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
