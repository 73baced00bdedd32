// Package artifact builds and reads the day-partitioned silver and gold
// artifacts. Artifacts are SQLite files built locally, then uploaded to
// object storage as full partition replacements.
package artifact

import (
	"fmt"
	"regexp"
)

// Object key layout, partitioned by calendar day:
//
//	silver/date=<day>/clean.sqlite
//	gold/date=<day>/aggregated.sqlite
//	reports/<day>/top10.csv
//	reports/<day>/congestion.csv
//	reports/<day>/summary.json
const (
	SilverObjectName = "clean.sqlite"
	GoldObjectName   = "aggregated.sqlite"
)

var dayPartitionRe = regexp.MustCompile(`date=(\d{4}-\d{2}-\d{2})/`)

// SilverKey returns the silver partition key for a day.
func SilverKey(prefix, day string) string {
	return fmt.Sprintf("%sdate=%s/%s", prefix, day, SilverObjectName)
}

// GoldKey returns the gold partition key for a day.
func GoldKey(prefix, day string) string {
	return fmt.Sprintf("%sdate=%s/%s", prefix, day, GoldObjectName)
}

// GoldDayPrefix returns the listing prefix for a day's gold partitions.
func GoldDayPrefix(prefix, day string) string {
	return fmt.Sprintf("%sdate=%s/", prefix, day)
}

// ReportKey returns the key of a report artifact for a day.
func ReportKey(prefix, day, name string) string {
	return fmt.Sprintf("%s%s/%s", prefix, day, name)
}

// DayFromKey extracts the day partition from an artifact key.
func DayFromKey(key string) (string, bool) {
	m := dayPartitionRe.FindStringSubmatch(key)
	if m == nil {
		return "", false
	}
	return m[1], true
}
