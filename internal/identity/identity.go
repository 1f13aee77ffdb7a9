// Package identity derives the two stable keys every other component
// relies on: the canonical contact key for a raw phone number, and the
// composite deduplication id for a call.
package identity

import (
	"fmt"
	"strings"

	"github.com/miniclick/calltrackd/internal/callrec"
)

// DeviceSentinel is used in composite ids when no device identifier is
// available. Two devices sharing a SIM must still produce distinct ids,
// so callers should only fall back to the sentinel as a last resort.
const DeviceSentinel = "unknown_dev"

// compositeDelimiter joins the composite id segments. The phone-number
// segment is already stripped to digits and '+', so the delimiter can
// never appear inside a segment except in the free-form device id,
// which always occupies the second slot.
const compositeDelimiter = "-"

// Region is the locale/carrier context Normalize needs to produce an
// international form. Given the same Region, Normalize is a pure
// function.
type Region struct {
	// ISO 3166-1 alpha-2 country code, e.g. "DE", "IN", "US".
	Country string
}

// callingCodes maps ISO country codes to international dialing
// prefixes. Only countries observed in deployments are listed; numbers
// from unlisted regions stay in stripped national form, which is still
// a stable key.
var callingCodes = map[string]string{
	"US": "1", "CA": "1",
	"IN": "91",
	"GB": "44",
	"DE": "49",
	"FR": "33",
	"ES": "34",
	"IT": "39",
	"NL": "31",
	"BR": "55",
	"MX": "52",
	"AU": "61",
	"NZ": "64",
	"ZA": "27",
	"NG": "234",
	"KE": "254",
	"PK": "92",
	"BD": "880",
	"ID": "62",
	"PH": "63",
	"AE": "971",
	"SA": "966",
}

// Normalize strips a raw phone number down to digits plus a single
// leading '+', then reformats to international form when the region's
// calling code is known. Re-normalizing an already-normalized key
// returns it unchanged.
func Normalize(raw string, region Region) string {
	stripped := strip(raw)
	if stripped == "" || stripped == "+" {
		return stripped
	}

	// Already international.
	if strings.HasPrefix(stripped, "+") {
		return stripped
	}

	code, ok := callingCodes[strings.ToUpper(region.Country)]
	if !ok {
		return stripped
	}

	national := strings.TrimLeft(stripped, "0")
	if national == "" {
		return stripped
	}

	// A bare national-format number has at most 10 significant digits.
	// Longer strings already carry a country code dialed without '+'
	// (e.g. 00-prefixed international dialing).
	if len(national) > 10 {
		if strings.HasPrefix(national, code) {
			return "+" + national
		}
		return stripped
	}

	return "+" + code + national
}

// strip removes every character except digits and a leading '+'.
func strip(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CompositeID builds the deduplication key for a call. Re-ingesting the
// same physical call reproduces the same id; the device segment keeps
// ids distinct across devices sharing a SIM.
func CompositeID(direction callrec.Direction, deviceID, contactKey string, occurredAt int64) string {
	if deviceID == "" {
		deviceID = DeviceSentinel
	}
	return strings.Join([]string{
		string(direction),
		deviceID,
		contactKey,
		fmt.Sprintf("%d", occurredAt),
	}, compositeDelimiter)
}
