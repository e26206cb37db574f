package rename

import (
	"strings"

	"github.com/oncutf/oncutf/internal/errs"
	"github.com/oncutf/oncutf/pkg/file"
)

// maxNameBytes is the common per-component limit across the filesystems
// the tool targets.
const maxNameBytes = 255

// illegalNameChars is the Windows superset; names valid under it are valid
// everywhere the tool runs.
const illegalNameChars = `<>:"/\|?*`

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// ValidateName checks one candidate basename against filesystem-validity
// rules. Returns a Validation error describing the first rule violated.
func ValidateName(name string) error {
	if name == "" {
		return errs.New(errs.ErrValidation, "empty filename")
	}

	stem, _ := file.SplitExt(name)
	if stem == "" {
		return errs.New(errs.ErrValidation, "empty filename stem").
			WithContext("name", name)
	}

	if len(name) > maxNameBytes {
		return errs.New(errs.ErrValidation, "filename exceeds length limit").
			WithContext("name", name).
			WithContext("limit", maxNameBytes)
	}

	for _, r := range name {
		if r < 0x20 {
			return errs.New(errs.ErrValidation, "filename contains control character").
				WithContext("name", name)
		}
		if strings.ContainsRune(illegalNameChars, r) {
			return errs.New(errs.ErrValidation, "filename contains illegal character").
				WithContext("name", name).
				WithContext("char", string(r))
		}
	}

	if strings.HasSuffix(name, ".") || strings.HasSuffix(name, " ") {
		return errs.New(errs.ErrValidation, "filename ends with dot or space").
			WithContext("name", name)
	}

	if reservedNames[strings.ToUpper(stem)] {
		return errs.New(errs.ErrValidation, "filename is a reserved device name").
			WithContext("name", name)
	}

	return nil
}
