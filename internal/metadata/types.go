package metadata

import (
	"fmt"
	"os"
	"time"
)

// Record holds the extracted metadata for one file. Records are derived
// data owned by the cache; the Fingerprint ties a record to the file state
// it was extracted from.
type Record struct {
	Fields      map[string]any `json:"fields"`
	Extended    bool           `json:"extended"`
	ExtractedAt time.Time      `json:"extracted_at"`
	Fingerprint int64          `json:"fingerprint"`
}

// Field returns the raw value for a field name.
func (r Record) Field(name string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// StringField returns the field rendered as a string, or "" when absent.
// exiftool numeric mode reports whole numbers as float64 through JSON;
// those are rendered without a decimal point.
func (r Record) StringField(name string) string {
	v, ok := r.Field(name)
	if !ok || v == nil {
		return ""
	}
	switch value := v.(type) {
	case string:
		return value
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%v", value)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// Fingerprint derives the cache-validity fingerprint for a file from its
// current modification time.
func Fingerprint(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}
