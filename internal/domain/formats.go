package domain

import (
	"path"
	"sort"
	"strings"
)

// Family groups formats by container structure.
type Family string

const (
	// FamilyLegacy is the OLE2 compound binary container (doc, xls, ppt).
	FamilyLegacy Family = "legacy"
	// FamilyModern is the zip-based Office Open XML container.
	FamilyModern Family = "modern"
)

// Format describes one accepted input extension.
type Format struct {
	Extension string
	Family    Family
	// Manifest is the zip entry identifying a modern document; empty for
	// legacy formats.
	Manifest string
}

// supportedFormats is never mutated after package init.
var supportedFormats = map[string]Format{
	"doc":  {Extension: "doc", Family: FamilyLegacy},
	"xls":  {Extension: "xls", Family: FamilyLegacy},
	"ppt":  {Extension: "ppt", Family: FamilyLegacy},
	"docx": {Extension: "docx", Family: FamilyModern, Manifest: "word/document.xml"},
	"xlsx": {Extension: "xlsx", Family: FamilyModern, Manifest: "xl/workbook.xml"},
	"pptx": {Extension: "pptx", Family: FamilyModern, Manifest: "ppt/presentation.xml"},
}

// LookupFormat returns the format registered for ext. ext may carry a
// leading dot and any letter case.
func LookupFormat(ext string) (Format, bool) {
	f, ok := supportedFormats[NormalizeExtension(ext)]
	return f, ok
}

// SupportedExtensions returns the accepted extensions in sorted order.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(supportedFormats))
	for ext := range supportedFormats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Manifests returns the manifest entry of every modern format.
func Manifests() map[string]string {
	m := make(map[string]string)
	for ext, f := range supportedFormats {
		if f.Family == FamilyModern {
			m[ext] = f.Manifest
		}
	}
	return m
}

// NormalizeExtension lowercases ext and strips surrounding space and one
// leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	return strings.TrimPrefix(ext, ".")
}

// ExtensionOf returns the normalized extension of a file name or URL path,
// or "" when there is none.
func ExtensionOf(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return NormalizeExtension(path.Ext(path.Base(name)))
}
