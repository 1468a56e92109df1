/*
Command server runs the office-to-PDF gateway.

It accepts .doc, .docx, .xls, .xlsx, .ppt and .pptx documents on
POST /convert (and the older POST /docxToPdf), converts them with a headless
LibreOffice and streams the PDF back.

A document arrives in one of three ways, picked by the X-Convert-Method header
or the method field:

	file            multipart/form-data with a part named "file"
	ms, raw, stream the request body; extension in X-File-Extension or ?extension=
	url             the document is fetched from the url field or ?url=

Without a method, a multipart file part means file, a url field means url and
anything else is read as a raw stream.

Every job works in its own directory under WORKSPACE_ROOT with a private
engine profile. The directory is removed once the response has been sent,
whatever the outcome.

Usage:

	server [--addr :8000] [--env-file path] [--log-level debug]

Configuration comes from the environment and .env files; see the config
package for the full list of keys.
*/
package main
