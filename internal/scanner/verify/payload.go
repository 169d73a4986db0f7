package verify

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// BookingIDFromPayload extracts the booking code from a decoded QR payload.
// Tickets carry either the bare code, a JSON object with bookingId (or
// booking_id), or a link with a booking/bookingId query parameter. Anything
// else is passed through unchanged for the server to judge.
func BookingIDFromPayload(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if json.Unmarshal([]byte(s), &obj) == nil {
			for _, k := range []string{"bookingId", "booking_id", "bookingID"} {
				if v, ok := obj[k]; ok {
					switch t := v.(type) {
					case string:
						return strings.TrimSpace(t)
					case float64:
						return strconv.FormatFloat(t, 'f', -1, 64)
					}
				}
			}
		}
		return s
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if u, err := url.Parse(s); err == nil {
			q := u.Query()
			for _, k := range []string{"bookingId", "booking", "booking_id"} {
				if v := strings.TrimSpace(q.Get(k)); v != "" {
					return v
				}
			}
		}
	}
	return s
}
