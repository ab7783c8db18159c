package exporter

import (
	"io"
)

// Write encodes t in the given format
func Write(w io.Writer, format Format, t Table) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, t)
	case FormatXLSX:
		return writeXLSX(w, t)
	default:
		return ErrUnsupportedFormat
	}
}
