package domain

import "io"

// Mode names an acquisition mode.
type Mode string

const (
	ModeUpload Mode = "file"
	ModeRaw    Mode = "raw"
	ModeURL    Mode = "url"
)

// Source is the input of a conversion request. It is resolved once at the
// HTTP boundary and is one of Upload, RawStream or RemoteURL.
type Source interface {
	Mode() Mode
	isSource()
}

// Upload is a multipart file part. The extension comes from Filename.
type Upload struct {
	Filename string
	Body     io.Reader
}

// RawStream is a request body holding the document bytes. The extension is
// declared out of band.
type RawStream struct {
	Extension string
	Body      io.Reader
}

// RemoteURL is a document fetched from an http(s) URL. The extension comes
// from the URL path.
type RemoteURL struct {
	URL string
}

func (Upload) Mode() Mode    { return ModeUpload }
func (RawStream) Mode() Mode { return ModeRaw }
func (RemoteURL) Mode() Mode { return ModeURL }

func (Upload) isSource()    {}
func (RawStream) isSource() {}
func (RemoteURL) isSource() {}
