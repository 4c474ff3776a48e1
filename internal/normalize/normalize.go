// Package normalize turns raw call-detail rows into validated DetailRecords
// with all derived fields computed. Normalization is deterministic and
// idempotent: re-normalizing an already-normalized record is a fixed point.
package normalize

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lattice-intel/cdrscope/internal/model"
)

var (
	subscriberNumberRe = regexp.MustCompile(`^[0-9]{10,15}$`)
	identityRe         = regexp.MustCompile(`^[0-9]{15}$`)
)

// ValidationError reports one malformed or out-of-range input field. Rows
// failing validation are skipped, never partially persisted.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s (got %q)", e.Field, e.Reason, e.Value)
}

func invalid(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// Row is one raw record as a string-keyed map. Sources (CSV, XLSX, API
// bodies) produce rows with canonical field keys; see CanonicalKey.
type Row map[string]string

// canonicalKeys maps squashed header forms (lowercase, separators removed)
// to the canonical field key used by Record.
var canonicalKeys = map[string]string{
	"privateaddress":   "privateAddress",
	"privateport":      "privatePort",
	"publicaddress":    "publicAddress",
	"publicport":       "publicPort",
	"destaddress":      "destAddress",
	"destinationip":    "destAddress",
	"destport":         "destPort",
	"destinationport":  "destPort",
	"subscribernumber": "subscriberNumber",
	"msisdn":           "subscriberNumber",
	"deviceid":         "deviceId",
	"imei":             "deviceId",
	"subscriberid":     "subscriberId",
	"imsi":             "subscriberId",
	"starttime":        "startTime",
	"endtime":          "endTime",
	"cellid":           "cellId",
	"latitude":         "latitude",
	"longitude":        "longitude",
	"uplinkbytes":      "uplinkBytes",
	"downlinkbytes":    "downlinkBytes",
	"accesstype":       "accessType",
}

// CanonicalKey maps an arbitrary source header ("dest_address", "Dest Port",
// "MSISDN") to its canonical field key. Returns ("", false) for headers that
// are not part of the record shape.
func CanonicalKey(header string) (string, bool) {
	squashed := strings.ToLower(header)
	for _, cut := range []string{"_", "-", " "} {
		squashed = strings.ReplaceAll(squashed, cut, "")
	}
	key, ok := canonicalKeys[squashed]
	return key, ok
}

// Record validates a raw row and returns a fully derived DetailRecord.
// All validation rules must hold or the row is rejected with a
// ValidationError naming the offending field.
func Record(row Row) (*model.DetailRecord, error) {
	rec := &model.DetailRecord{}

	var err error
	if rec.PrivateAddress, err = address(row, "privateAddress"); err != nil {
		return nil, err
	}
	if rec.PrivatePort, err = port(row, "privatePort"); err != nil {
		return nil, err
	}
	if rec.PublicAddress, err = address(row, "publicAddress"); err != nil {
		return nil, err
	}
	if rec.PublicPort, err = port(row, "publicPort"); err != nil {
		return nil, err
	}
	if rec.DestAddress, err = address(row, "destAddress"); err != nil {
		return nil, err
	}
	if rec.DestPort, err = port(row, "destPort"); err != nil {
		return nil, err
	}

	if rec.SubscriberNumber, err = pattern(row, "subscriberNumber", subscriberNumberRe, "must be 10-15 digits"); err != nil {
		return nil, err
	}
	if rec.DeviceID, err = pattern(row, "deviceId", identityRe, "must be exactly 15 digits"); err != nil {
		return nil, err
	}
	if rec.SubscriberID, err = pattern(row, "subscriberId", identityRe, "must be exactly 15 digits"); err != nil {
		return nil, err
	}

	if rec.StartTime, err = timestamp(row, "startTime"); err != nil {
		return nil, err
	}
	if rec.EndTime, err = timestamp(row, "endTime"); err != nil {
		return nil, err
	}
	if !rec.EndTime.After(rec.StartTime) {
		return nil, invalid("endTime", row["endTime"], "must be strictly after startTime")
	}

	rec.CellID = strings.TrimSpace(row["cellId"])
	if rec.CellID == "" {
		return nil, invalid("cellId", "", "required")
	}
	if rec.Latitude, err = coordinate(row, "latitude", -90, 90); err != nil {
		return nil, err
	}
	if rec.Longitude, err = coordinate(row, "longitude", -180, 180); err != nil {
		return nil, err
	}

	if rec.UplinkBytes, err = byteCount(row, "uplinkBytes"); err != nil {
		return nil, err
	}
	if rec.DownlinkBytes, err = byteCount(row, "downlinkBytes"); err != nil {
		return nil, err
	}

	at, ok := model.ParseAccessType(strings.ToUpper(strings.TrimSpace(row["accessType"])))
	if !ok {
		return nil, invalid("accessType", row["accessType"], "must be one of 2G, 3G, 4G, 5G")
	}
	rec.AccessType = at

	Derive(rec)
	return rec, nil
}

// Derive recomputes every derived field from its inputs. Derived fields are
// never stored independently of a source write; any mutation of the inputs
// must be followed by Derive.
func Derive(rec *model.DetailRecord) {
	rec.DurationMs = rec.EndTime.Sub(rec.StartTime).Milliseconds()
	rec.TotalBytes = rec.UplinkBytes + rec.DownlinkBytes
	rec.Location = model.Point{Lng: rec.Longitude, Lat: rec.Latitude}
}

func address(row Row, field string) (string, error) {
	v := strings.TrimSpace(row[field])
	if v == "" {
		return "", invalid(field, v, "required")
	}
	if net.ParseIP(v) == nil {
		return "", invalid(field, v, "not a valid IP address")
	}
	return v, nil
}

func port(row Row, field string) (int, error) {
	v := strings.TrimSpace(row[field])
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalid(field, v, "not a number")
	}
	if n < 1 || n > 65535 {
		return 0, invalid(field, v, "must be in [1, 65535]")
	}
	return n, nil
}

func pattern(row Row, field string, re *regexp.Regexp, reason string) (string, error) {
	v := strings.TrimSpace(row[field])
	if !re.MatchString(v) {
		return "", invalid(field, v, reason)
	}
	return v, nil
}

// timestamp accepts RFC 3339 strings or unix epoch milliseconds.
func timestamp(row Row, field string) (time.Time, error) {
	v := strings.TrimSpace(row[field])
	if v == "" {
		return time.Time{}, invalid(field, v, "required")
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, invalid(field, v, "not RFC 3339 or epoch milliseconds")
	}
	return t, nil
}

func coordinate(row Row, field string, min, max float64) (float64, error) {
	v := strings.TrimSpace(row[field])
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, invalid(field, v, "not a number")
	}
	if f < min || f > max {
		return 0, invalid(field, v, fmt.Sprintf("must be in [%g, %g]", min, max))
	}
	return f, nil
}

func byteCount(row Row, field string) (int64, error) {
	v := strings.TrimSpace(row[field])
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, invalid(field, v, "not a number")
	}
	if n < 0 {
		return 0, invalid(field, v, "must be >= 0")
	}
	return n, nil
}
