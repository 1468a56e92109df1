// Package validate checks that a document's binary structure matches its
// declared extension before it is handed to the engine.
package validate

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
)

// ole2Magic is the header of every OLE2 compound binary file.
var ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Validator checks container structure. It holds no state.
type Validator struct{}

// New returns a Validator.
func New() *Validator {
	return &Validator{}
}

// Validate checks the file at path against ext. Unsupported extensions
// fail with UNSUPPORTED_FORMAT, structural mismatches with FORMAT_MISMATCH.
func (v *Validator) Validate(path, ext string) error {
	format, ok := domain.LookupFormat(ext)
	if !ok {
		return domain.Errorf(domain.CodeUnsupportedFormat, "unsupported file extension %q", ext)
	}

	switch format.Family {
	case domain.FamilyLegacy:
		return validateLegacy(path, format)
	case domain.FamilyModern:
		return validateModern(path, format)
	default:
		return domain.Errorf(domain.CodeInternal, "unknown format family %q", format.Family)
	}
}

func validateLegacy(path string, format domain.Format) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.NewError(domain.CodeInternal, "could not read document", err)
	}
	defer f.Close()

	header := make([]byte, len(ole2Magic))
	if _, err := io.ReadFull(f, header); err != nil {
		return mismatch(format, "file too short for a compound binary document")
	}
	if !bytes.Equal(header, ole2Magic) {
		return mismatch(format, "missing compound binary signature")
	}
	return nil
}

func validateModern(path string, format domain.Format) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.NewError(domain.CodeInternal, "could not read document", err)
		}
		return mismatch(format, "not a zip container")
	}
	defer zr.Close()

	// Another family's manifest fails the check even when ours is present.
	owners := make(map[string]string)
	for ext, manifest := range domain.Manifests() {
		owners[manifest] = ext
	}

	own := false
	var others []string
	for _, f := range zr.File {
		ext, ok := owners[f.Name]
		switch {
		case !ok:
		case ext == format.Extension:
			own = true
		default:
			others = append(others, ext)
		}
	}

	if len(others) > 0 {
		return mismatch(format, fmt.Sprintf("container holds a %s document", others[0]))
	}
	if !own {
		return mismatch(format, fmt.Sprintf("missing %s", format.Manifest))
	}
	return nil
}

func mismatch(format domain.Format, detail string) error {
	return domain.Errorf(domain.CodeFormatMismatch,
		"file content does not match extension %q: %s", format.Extension, detail)
}
