package indi

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBLOB(t *testing.T) {
	tests := []struct {
		name   string
		format string
		data   []byte
		valid  bool
	}{
		{"fits", ".fits", []byte("SIMPLE  =                    T / conforms"), true},
		{"fits upper case suffix", ".FITS", []byte("SIMPLE  =                    T"), true},
		{"fits without header", ".fits", []byte("BITPIX  =                   16"), false},
		{"xisf", ".xisf", []byte("XISF0100\x00\x01\x00\x00"), true},
		{"xisf bad signature", ".xisf", []byte("XISF0200"), false},
		{"compressed fits", ".fits.z", []byte{0x1f, 0x8b, 0x08, 0x00}, true},
		{"compressed not gzip", ".fits.gz", []byte("SIMPLE  ="), false},
		{"rice compressed fits", ".fits.fz", []byte("SIMPLE  =                    T"), true},
		{"jpeg", ".jpg", []byte{0xff, 0xd8, 0xff, 0xe0}, true},
		{"jpeg long suffix", ".jpeg", []byte{0xff, 0xd8, 0xff, 0xdb}, true},
		{"jpeg garbage", ".jpg", []byte("garbage not an image"), false},
		{"png", ".png", []byte("\x89PNG\r\n\x1a\n\x00\x00"), true},
		{"png garbage", ".png", []byte("garbage not an image"), false},
		{"tiff little endian", ".tif", []byte("II*\x00\x08\x00"), true},
		{"tiff big endian", ".tiff", []byte("MM\x00*\x00\x08"), true},
		{"tiff garbage", ".tiff", []byte("garbage not an image"), false},
		{"unsupported format", ".raw", []byte("garbage not an image"), false},
		{"no format", "", []byte("garbage not an image"), false},
		{"empty", ".fits", nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateBLOB(tc.format, tc.data)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDecodeBLOB(t *testing.T) {
	payload := []byte("SIMPLE  =                    T")
	encoded := base64.StdEncoding.EncodeToString(payload)

	e := Element{Name: "CCD1", Format: ".fits", Size: len(payload), Text: encoded[:10] + "\n  " + encoded[10:]}
	require.NoError(t, decodeBLOB(&e))
	assert.Equal(t, payload, e.BLOB)
	assert.Empty(t, e.Text)

	e = Element{Name: "CCD1", Format: ".fits", Text: "!!not base64!!"}
	assert.ErrorIs(t, decodeBLOB(&e), ErrBlobTransfer)

	e = Element{Name: "CCD1", Format: ".fits", Size: 1000, Text: encoded}
	assert.ErrorIs(t, decodeBLOB(&e), ErrBlobTransfer)

	garbage := base64.StdEncoding.EncodeToString([]byte("garbage not an image"))
	for _, format := range []string{".png", ".jpg", "", ".raw"} {
		e = Element{Name: "CCD1", Format: format, Text: garbage}
		assert.ErrorIs(t, decodeBLOB(&e), ErrBlobTransfer, "format %q", format)
		assert.Nil(t, e.BLOB, "format %q", format)
	}
}
