// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	mhttp "github.com/absmach/mwire/pkg/http"
	"github.com/klauspost/compress/flate"
)

// deflateExtension is the permessage-deflate token from RFC 7692.
const deflateExtension = "permessage-deflate"

// deflateTail is the flush marker every DEFLATE block ends with. It is
// stripped from compressed payloads on the wire and appended again before
// decompression.
var deflateTail = []byte{0x00, 0x00, 0xFF, 0xFF}

// OffersDeflate reports whether the handshake request offers the
// permessage-deflate extension.
func OffersDeflate(req *mhttp.Request) bool {
	for _, offer := range strings.Split(req.Headers.Get("Sec-WebSocket-Extensions"), ",") {
		name := offer
		if si := strings.IndexByte(offer, ';'); si >= 0 {
			name = offer[:si]
		}
		if strings.TrimSpace(name) == deflateExtension {
			return true
		}
	}
	return false
}

// DeflateResponseParams returns the extension parameters a server accepts
// with. Context takeover is declined in both directions, so every message
// compresses independently and no sliding window survives between them.
func DeflateResponseParams() []string {
	return []string{deflateExtension + "; server_no_context_takeover; client_no_context_takeover"}
}

// Deflater compresses message payloads for framing with RSV1 set. It is
// configured without context takeover: the compressor resets per message.
//
// A Deflater is not safe for concurrent use.
type Deflater struct {
	w   *flate.Writer
	buf bytes.Buffer
}

// NewDeflater returns a compressor at the given flate level.
func NewDeflater(level int) (*Deflater, error) {
	d := &Deflater{}
	w, err := flate.NewWriter(&d.buf, level)
	if err != nil {
		return nil, fmt.Errorf("ws: deflate init: %w", err)
	}
	d.w = w
	return d, nil
}

// Compress returns the compressed form of payload with the trailing flush
// marker stripped, ready to carry in a data frame.
func (d *Deflater) Compress(payload []byte) ([]byte, error) {
	d.buf.Reset()
	d.w.Reset(&d.buf)
	if _, err := d.w.Write(payload); err != nil {
		return nil, fmt.Errorf("ws: deflate: %w", err)
	}
	if err := d.w.Flush(); err != nil {
		return nil, fmt.Errorf("ws: deflate flush: %w", err)
	}
	out := d.buf.Bytes()
	out = bytes.TrimSuffix(out, deflateTail)
	return append([]byte(nil), out...), nil
}

// Inflater decompresses message payloads received with RSV1 set.
type Inflater struct {
	maxSize uint64
}

// NewInflater returns a decompressor that rejects messages inflating past
// maxSize. Zero applies DefaultMaxMessageSize.
func NewInflater(maxSize uint64) *Inflater {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Inflater{maxSize: maxSize}
}

// Decompress restores the original payload of a compressed message. The
// stripped flush marker is reappended before inflating.
func (i *Inflater) Decompress(payload []byte) ([]byte, error) {
	src := io.MultiReader(bytes.NewReader(payload), bytes.NewReader(deflateTail))
	r := flate.NewReader(src)
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, int64(i.maxSize)+1))
	if err != nil {
		return nil, fmt.Errorf("ws: inflate: %w", err)
	}
	if uint64(len(out)) > i.maxSize {
		return nil, fmt.Errorf("%w: inflated past %d", ErrMessageTooLarge, i.maxSize)
	}
	return out, nil
}
