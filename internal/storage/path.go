package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

const ExportPrefix = "exports"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportKey names one conversation export. The session id suffix keeps
// two exports taken within the same second from overwriting each other.
func BuildExportKey(sessionID string, exportedAt time.Time, ext string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	switch ext {
	case "json", "parquet":
	default:
		return "", fmt.Errorf("unsupported export extension %q", ext)
	}
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	ts := exportedAt.UTC()
	return path.Join(
		ExportPrefix,
		fmt.Sprintf("conversation_export_%s_%s.%s", ts.Format("20060102_150405"), short, ext),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
