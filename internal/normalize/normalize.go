// Package normalize implements the Property Normalizer (C5): it converts
// the heterogeneous values returned by a BACnet read-property call into the
// uniform NormalizedValue shape persisted to the database (§3).
//
// The raw values accepted here are whatever shape the external BACnet
// stack already decoded them into (octet strings as byte slices,
// recipients and COV subscriptions as small structs below) — parsing the
// wire encoding itself is out of scope (§1).
package normalize

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kloudnuk/bacnet-gateway/internal/logging"
	"github.com/kloudnuk/bacnet-gateway/internal/model"
)

// OctetString is a raw BACnet octet string, already decoded to bytes by
// the transport layer.
type OctetString []byte

// Recipient is a device/address pair as found in the three
// "*-recipients" list properties.
type Recipient struct {
	Device     string
	MacAddress OctetString
}

// COVSubscription is one entry of active-cov-subscriptions.
type COVSubscription struct {
	RecipientMac       OctetString
	PropertyReference  string
	TimeRemaining      string
	COVIncrement       string
}

// DateAndTime is the {date, time} pair BACnet uses for restart/restore
// timestamps.
type DateAndTime struct {
	Date string
	Time string
}

var log = logging.GetLogger().WithField("log", "normalize")

// Normalize dispatches by property name and never returns an error: any
// normalization failure becomes the "not-supported" sentinel, matching the
// source's broad catch-all behavior (§9 design note), logged at DEBUG
// rather than propagated.
func Normalize(property string, raw interface{}) model.NormalizedValue {
	value, typ, ok := dispatch(property, raw)
	if !ok {
		log.Debug("normalization failed, falling back to sentinel", logging.String("property", property))
		return model.NotSupported
	}
	return model.NormalizedValue{Value: value, Type: typ}
}

func dispatch(property string, raw interface{}) (interface{}, string, bool) {
	switch property {
	case "object-list":
		return normalizeSortedStringList(raw)

	case "protocol-object-types-supported", "protocol-services-supported":
		return normalizeSemicolonList(raw)

	case "restart-notification-recipients",
		"utc-time-synchronization-recipients",
		"time-synchronization-recipients":
		return normalizeRecipients(raw)

	case "time-of-device-restart", "last-restore-time":
		return normalizeDateTime(raw)

	case "device-uuid":
		octets, ok := raw.(OctetString)
		if !ok {
			return nil, "", false
		}
		return DecodeUUID(octets), "string", true

	case "active-cov-subscriptions":
		return normalizeCOVSubscriptions(raw)

	// The source writes these two with a stray comparison instead of an
	// assignment, which is a no-op against the stored value; the intended
	// behavior (per spec §9) is a plain boolean pass-through.
	case "align-intervals", "daylight-savings-status":
		b, ok := raw.(bool)
		if !ok {
			return nil, "", false
		}
		return b, "bool", true

	default:
		return fmt.Sprintf("%v", raw), "string", true
	}
}

func normalizeSortedStringList(raw interface{}) (interface{}, string, bool) {
	items, ok := toStringSlice(raw)
	if !ok {
		return nil, "", false
	}
	sort.Strings(items)
	return items, "list", true
}

func normalizeSemicolonList(raw interface{}) (interface{}, string, bool) {
	s, ok := raw.(string)
	if !ok {
		return nil, "", false
	}
	parts := strings.Split(s, ";")
	sort.Strings(parts)
	return parts, "list", true
}

func normalizeRecipients(raw interface{}) (interface{}, string, bool) {
	recipients, ok := raw.([]Recipient)
	if !ok {
		return nil, "", false
	}
	out := make([]map[string]interface{}, 0, len(recipients))
	for _, r := range recipients {
		addr, ok := DecodeMacAddress(r.MacAddress)
		if !ok {
			log.Debug("recipient address decode failed", logging.String("device", r.Device))
			continue
		}
		out = append(out, map[string]interface{}{
			"device":  r.Device,
			"address": addr,
		})
	}
	return out, "list", true
}

func normalizeDateTime(raw interface{}) (interface{}, string, bool) {
	dt, ok := raw.(DateAndTime)
	if !ok {
		return nil, "", false
	}
	return fmt.Sprintf("%s %s", dt.Date, dt.Time), "string", true
}

func normalizeCOVSubscriptions(raw interface{}) (interface{}, string, bool) {
	subs, ok := raw.([]COVSubscription)
	if !ok {
		return nil, "", false
	}
	out := make([]map[string]interface{}, 0, len(subs))
	for _, s := range subs {
		addr, ok := DecodeMacAddress(s.RecipientMac)
		if !ok {
			continue
		}
		out = append(out, map[string]interface{}{
			"device":            addr,
			"propertyReference": s.PropertyReference,
			"timeRemaining":     s.TimeRemaining,
			"covIncrement":      s.COVIncrement,
		})
	}
	return out, "list", true
}

func toStringSlice(raw interface{}) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out, true
	default:
		return nil, false
	}
}

// DecodeUUID implements the §4.5 octet-string-to-UUID rule: for each octet,
// attempt a hex parse and concatenate its decimal value; octets the
// transport has already handed over as raw bytes are concatenated
// directly, since they are already the parsed decimal form.
func DecodeUUID(octets OctetString) string {
	var sb strings.Builder
	for _, o := range octets {
		sb.WriteString(strconv.Itoa(int(o)))
	}
	return sb.String()
}

// DecodeMacAddress implements the §4.5 MAC-to-IPv4:Port rule:
//   - 7 octets: the first is unused; octets 2-5 form the dotted quad;
//     octets 6-7 form a big-endian 16-bit port.
//   - 2 octets: the second octet's decimal value, verbatim.
//   - 0 or 1 octets: no usable address (ok=false).
//   - any other length: the octets passed through as a best-effort string.
func DecodeMacAddress(octets OctetString) (string, bool) {
	switch len(octets) {
	case 7:
		port := binary.BigEndian.Uint16(octets[5:7])
		return fmt.Sprintf("%d.%d.%d.%d:%d", octets[1], octets[2], octets[3], octets[4], port), true
	case 2:
		return strconv.Itoa(int(octets[1])), true
	case 0, 1:
		return "", false
	default:
		return fmt.Sprintf("%v", []byte(octets)), true
	}
}
