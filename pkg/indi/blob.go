package indi

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"astrobridge/internal/pool"
	"astrobridge/pkg/device"
)

type signature struct {
	kind     string
	prefixes [][]byte
}

var (
	fitsSignature = signature{"FITS header", [][]byte{[]byte("SIMPLE  =")}}
	gzipSignature = signature{"gzip header", [][]byte{{0x1f, 0x8b}}}

	// signatures maps the lower case formats cameras announce to the
	// leading bytes of their payload.
	signatures = map[string]signature{
		".fits": fitsSignature,
		".fit":  fitsSignature,
		".fts":  fitsSignature,
		".fz":   fitsSignature,
		".xisf": {"XISF signature", [][]byte{[]byte("XISF0100")}},
		".jpg":  {"JPEG marker", [][]byte{{0xff, 0xd8, 0xff}}},
		".jpeg": {"JPEG marker", [][]byte{{0xff, 0xd8, 0xff}}},
		".png":  {"PNG signature", [][]byte{{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}}},
		".tif":  {"TIFF header", [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}},
		".tiff": {"TIFF header", [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}},
	}
)

func (s signature) matches(data []byte) bool {
	for _, prefix := range s.prefixes {
		if bytes.HasPrefix(data, prefix) {
			return true
		}
	}
	return false
}

// BLOB is a binary payload received from the server.
type BLOB struct {
	Device   string
	Property string
	Element  string
	// Format is the file suffix announced by the server, e.g. ".fits".
	Format string
	Data   []byte
}

// decodeBLOB replaces the base64 text of e by the decoded, validated payload.
func decodeBLOB(e *Element) error {
	encoded := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, e.Text)
	e.Text = ""

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBlobTransfer, e.Name, err)
	}
	if e.Size > 0 && !compressed(e.Format) && len(data) != e.Size {
		return fmt.Errorf("%w: %s: got %d bytes, announced %d", ErrBlobTransfer, e.Name, len(data), e.Size)
	}
	if err := validateBLOB(e.Format, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBlobTransfer, e.Name, err)
	}

	e.BLOB = data
	return nil
}

func compressed(format string) bool {
	f := strings.ToLower(format)
	return strings.HasSuffix(f, ".z") || strings.HasSuffix(f, ".gz")
}

// validateBLOB checks the payload against the signature of its format.
// Payloads of a format without a known signature are rejected.
func validateBLOB(format string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}

	f := strings.ToLower(format)
	sig, ok := signatures[path.Ext(f)]
	if compressed(f) {
		sig, ok = gzipSignature, true
	}
	if !ok {
		return fmt.Errorf("unsupported BLOB format %q", format)
	}
	if !sig.matches(data) {
		return fmt.Errorf("%s payload has no %s", format, sig.kind)
	}
	return nil
}

type blobResult struct {
	blob BLOB
	err  error
}

// BlobWaiter receives the next BLOB of one property. Register it before
// sending the request that triggers the transfer.
type BlobWaiter struct {
	c   *Client
	id  uint64
	key Key
	ch  chan blobResult
}

// ExpectBlob registers a waiter for the next BLOB of device.name.
func (c *Client) ExpectBlob(device, name string) *BlobWaiter {
	w := &BlobWaiter{
		c:   c,
		id:  c.blobSeq.Add(1),
		key: Key{Device: device, Name: name},
		ch:  make(chan blobResult, 1),
	}
	c.blobWaiters.Store(w.id, w)
	return w
}

// Wait waits for the BLOB for at most timeout.
func (w *BlobWaiter) Wait(ctx context.Context, timeout time.Duration) (BLOB, error) {
	defer w.Cancel()

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case r := <-w.ch:
		return r.blob, r.err
	case <-timer.C:
		return BLOB{}, fmt.Errorf("%w: no BLOB for %s within %v", device.ErrTimeout, w.key, timeout)
	case <-ctx.Done():
		return BLOB{}, ctx.Err()
	}
}

// Cancel unregisters the waiter.
func (w *BlobWaiter) Cancel() {
	w.c.blobWaiters.Delete(w.id)
}

// ReadBlob waits for the next BLOB of device.name under the binary transfer
// timeout.
func (c *Client) ReadBlob(ctx context.Context, device, name string) (BLOB, error) {
	return c.ExpectBlob(device, name).Wait(ctx, c.policy.BinaryTransfer)
}

func (c *Client) deliverBlob(k Key, r blobResult) {
	c.blobWaiters.Range(func(id uint64, w *BlobWaiter) bool {
		if w.key == k {
			if _, ok := c.blobWaiters.LoadAndDelete(id); ok {
				w.ch <- r
			}
		}
		return true
	})
}

func (c *Client) failBlobWaiters(err error) {
	c.blobWaiters.Range(func(id uint64, w *BlobWaiter) bool {
		if _, ok := c.blobWaiters.LoadAndDelete(id); ok {
			w.ch <- blobResult{err: err}
		}
		return true
	})
}
