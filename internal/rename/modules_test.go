package rename

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncutf/oncutf/internal/metadata"
	"github.com/oncutf/oncutf/internal/scan"
)

func testEntry(name string) scan.FileEntry {
	return scan.FileEntry{
		Path:   "/photos/" + name,
		Name:   name,
		Status: scan.StatusPending,
	}
}

func TestCounterModule_Apply_PadsAndSteps(t *testing.T) {
	m := CounterModule{Start: 1, Step: 1, Padding: 3}

	assert.Equal(t, "001", m.Apply(testEntry("a.jpg"), 0, nil))
	assert.Equal(t, "002", m.Apply(testEntry("b.jpg"), 1, nil))
	assert.Equal(t, "010", m.Apply(testEntry("j.jpg"), 9, nil))
}

func TestCounterModule_Apply_DefaultsStepAndPadding(t *testing.T) {
	m := CounterModule{Start: 5}

	assert.Equal(t, "5", m.Apply(testEntry("a.jpg"), 0, nil))
	assert.Equal(t, "6", m.Apply(testEntry("b.jpg"), 1, nil))
}

func TestCounterModule_Apply_CustomStep(t *testing.T) {
	m := CounterModule{Start: 10, Step: 5, Padding: 2}

	assert.Equal(t, "10", m.Apply(testEntry("a.jpg"), 0, nil))
	assert.Equal(t, "25", m.Apply(testEntry("d.jpg"), 3, nil))
}

func TestSpecifiedTextModule_IsEffective(t *testing.T) {
	assert.False(t, SpecifiedTextModule{}.IsEffective())
	assert.True(t, SpecifiedTextModule{Text: "vacation"}.IsEffective())
}

func TestOriginalNameModule_Apply_StripsExtension(t *testing.T) {
	m := OriginalNameModule{}

	assert.Equal(t, "IMG_1234", m.Apply(testEntry("IMG_1234.jpg"), 0, nil))
	assert.Equal(t, ".hidden", m.Apply(testEntry(".hidden"), 0, nil))
}

func TestOriginalNameModule_Apply_Greeklish(t *testing.T) {
	m := OriginalNameModule{Greeklish: true}

	assert.Equal(t, "fotografia", m.Apply(testEntry("φωτογραφία.jpg"), 0, nil))
	assert.Equal(t, "holiday", m.Apply(testEntry("holiday.jpg"), 0, nil))
}

func TestMetadataFieldModule_Apply_RendersField(t *testing.T) {
	m := MetadataFieldModule{Field: "Model"}
	meta := &metadata.Record{Fields: map[string]any{"Model": "X100V"}}

	assert.Equal(t, "X100V", m.Apply(testEntry("a.jpg"), 0, meta))
}

func TestMetadataFieldModule_Apply_SanitizesDates(t *testing.T) {
	m := MetadataFieldModule{Field: "DateTimeOriginal"}
	meta := &metadata.Record{Fields: map[string]any{
		"DateTimeOriginal": "2024:01:31 09:15:00",
	}}

	got := m.Apply(testEntry("a.jpg"), 0, meta)
	require.NotContains(t, got, ":")
	assert.Equal(t, "2024-01-31 09-15-00", got)
}

func TestMetadataFieldModule_Apply_NilMetadataYieldsEmpty(t *testing.T) {
	m := MetadataFieldModule{Field: "Model"}

	assert.Equal(t, "", m.Apply(testEntry("a.jpg"), 0, nil))
}

func TestMetadataFieldModule_NeedsMetadata(t *testing.T) {
	assert.True(t, MetadataFieldModule{Field: "Model"}.NeedsMetadata())
	assert.False(t, MetadataFieldModule{}.NeedsMetadata())
}

func TestTextRemovalModule_Apply_CaseInsensitiveByDefault(t *testing.T) {
	m := TextRemovalModule{Pattern: "img_", All: true}

	assert.Equal(t, "1234", m.Apply(testEntry("IMG_1234.jpg"), 0, nil))
}

func TestTextRemovalModule_Apply_FirstOccurrenceOnly(t *testing.T) {
	m := TextRemovalModule{Pattern: "copy", All: false, CaseSensitive: true}

	assert.Equal(t, " of copy.txt stem", m.Apply(testEntry("copy of copy.txt stem.txt"), 0, nil))
}

func TestTextRemovalModule_Apply_AllOccurrences(t *testing.T) {
	m := TextRemovalModule{Pattern: "-", All: true, CaseSensitive: true}

	assert.Equal(t, "20240131", m.Apply(testEntry("2024-01-31.jpg"), 0, nil))
}

func TestTextRemovalModule_Apply_PatternAbsentKeepsStem(t *testing.T) {
	m := TextRemovalModule{Pattern: "zzz", All: true}

	assert.Equal(t, "holiday", m.Apply(testEntry("holiday.jpg"), 0, nil))
}
