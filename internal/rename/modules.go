package rename

import (
	"fmt"
	"strings"

	"github.com/oncutf/oncutf/internal/metadata"
	"github.com/oncutf/oncutf/internal/scan"
	"github.com/oncutf/oncutf/pkg/file"
)

// CounterModule contributes a sequential number based on the file's batch
// position.
type CounterModule struct {
	Start   int
	Step    int
	Padding int
}

func (m CounterModule) IsEffective() bool {
	return true
}

func (m CounterModule) Apply(_ scan.FileEntry, index int, _ *metadata.Record) string {
	step := m.Step
	if step == 0 {
		step = 1
	}
	padding := m.Padding
	if padding < 1 {
		padding = 1
	}
	value := m.Start + step*index
	return fmt.Sprintf("%0*d", padding, value)
}

// SpecifiedTextModule contributes a fixed text fragment.
type SpecifiedTextModule struct {
	Text string
}

func (m SpecifiedTextModule) IsEffective() bool {
	return m.Text != ""
}

func (m SpecifiedTextModule) Apply(scan.FileEntry, int, *metadata.Record) string {
	return m.Text
}

// OriginalNameModule contributes the original stem, optionally
// transliterated from Greek.
type OriginalNameModule struct {
	Greeklish bool
}

func (m OriginalNameModule) IsEffective() bool {
	return true
}

func (m OriginalNameModule) Apply(entry scan.FileEntry, _ int, _ *metadata.Record) string {
	stem, _ := file.SplitExt(entry.Name)
	if m.Greeklish {
		stem = Greeklish(stem)
	}
	return stem
}

// MetadataFieldModule contributes the value of an extracted metadata field
// (e.g. "Model", "DateTimeOriginal", "ImageWidth").
type MetadataFieldModule struct {
	Field string
}

func (m MetadataFieldModule) IsEffective() bool {
	return strings.TrimSpace(m.Field) != ""
}

func (m MetadataFieldModule) NeedsMetadata() bool {
	return m.IsEffective()
}

func (m MetadataFieldModule) Apply(_ scan.FileEntry, _ int, meta *metadata.Record) string {
	if meta == nil {
		return ""
	}
	return sanitizeFragment(meta.StringField(m.Field))
}

// TextRemovalModule contributes the original stem with occurrences of a
// pattern removed.
type TextRemovalModule struct {
	Pattern       string
	All           bool
	CaseSensitive bool
}

func (m TextRemovalModule) IsEffective() bool {
	return m.Pattern != ""
}

func (m TextRemovalModule) Apply(entry scan.FileEntry, _ int, _ *metadata.Record) string {
	stem, _ := file.SplitExt(entry.Name)
	if m.Pattern == "" {
		return stem
	}
	if m.CaseSensitive {
		if m.All {
			return strings.ReplaceAll(stem, m.Pattern, "")
		}
		return strings.Replace(stem, m.Pattern, "", 1)
	}
	return removeFold(stem, m.Pattern, m.All)
}

// removeFold removes case-insensitive occurrences of pattern from s.
func removeFold(s, pattern string, all bool) string {
	lower := strings.ToLower(s)
	lowerPattern := strings.ToLower(pattern)

	var builder strings.Builder
	for {
		idx := strings.Index(lower, lowerPattern)
		if idx < 0 {
			builder.WriteString(s)
			return builder.String()
		}
		builder.WriteString(s[:idx])
		s = s[idx+len(pattern):]
		lower = lower[idx+len(lowerPattern):]
		if !all {
			builder.WriteString(s)
			return builder.String()
		}
	}
}

// sanitizeFragment makes a metadata value safe to embed in a filename.
// exiftool dates use "2024:01:31 09:15:00" notation; colons and separators
// become hyphens rather than validation failures later.
func sanitizeFragment(value string) string {
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer(
		":", "-",
		"/", "-",
		"\\", "-",
		"|", "-",
		"<", "",
		">", "",
		"\"", "",
		"?", "",
		"*", "",
	)
	return strings.TrimSpace(replacer.Replace(value))
}
