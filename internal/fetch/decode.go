package fetch

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/snapetech/iptvguide/internal/safeurl"
)

// Decoder wraps a compressed stream.
type Decoder func(r io.Reader) (io.ReadCloser, error)

const (
	EncodingGzip   = "gzip"
	EncodingBrotli = "br"
)

// DefaultDecoders returns the decoders registered when Config.Decoders is nil.
func DefaultDecoders() map[string]Decoder {
	return map[string]Decoder{
		EncodingGzip: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
		EncodingBrotli: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(brotli.NewReader(r)), nil
		},
	}
}

var gzipMagic = []byte{0x1f, 0x8b}

// decodeBody undoes Content-Encoding, then file-level gzip. It returns the
// plain bytes and whether anything was decoded.
func (f *Fetcher) decodeBody(target string, body []byte, h http.Header) ([]byte, bool, error) {
	compressed := false

	switch ce := strings.ToLower(strings.TrimSpace(h.Get("Content-Encoding"))); ce {
	case "", "identity":
	case "x-gzip":
		ce = EncodingGzip
		fallthrough
	default:
		out, err := f.inflate(ce, body)
		if err != nil {
			return nil, false, err
		}
		body, compressed = out, true
	}

	magic := bytes.HasPrefix(body, gzipMagic)
	indicated := magic || safeurl.LooksGzip(target) || gzipContentType(h.Get("Content-Type"))
	if !indicated {
		return body, compressed, nil
	}
	if _, ok := f.decoders[EncodingGzip]; !ok {
		return nil, false, &Error{Kind: KindDecompressionUnsupported, Err: fmt.Errorf("no %s decoder", EncodingGzip)}
	}
	if !magic {
		// .gz name or gzip content type but plain bytes: the server (or a relay)
		// already inflated it.
		return body, compressed, nil
	}
	out, err := f.inflate(EncodingGzip, body)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (f *Fetcher) inflate(encoding string, body []byte) ([]byte, error) {
	dec, ok := f.decoders[encoding]
	if !ok {
		return nil, &Error{Kind: KindDecompressionUnsupported, Err: fmt.Errorf("no %s decoder", encoding)}
	}
	rc, err := dec(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindDecompressionFailed, Err: err}
	}
	defer rc.Close()
	out, err := io.ReadAll(io.LimitReader(rc, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, &Error{Kind: KindDecompressionFailed, Err: err}
	}
	if int64(len(out)) > f.cfg.MaxBytes {
		return nil, &Error{Kind: KindDecompressionFailed, Err: errTooLarge}
	}
	return out, nil
}

func gzipContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/gzip" || mt == "application/x-gzip"
}

var bom = []byte{0xef, 0xbb, 0xbf}

// LooksLikeXMLTV reports whether body starts (after an optional UTF-8 BOM and
// whitespace) with an XML declaration, a <tv> root or a tv DOCTYPE.
func LooksLikeXMLTV(body []byte) bool {
	b := bytes.TrimLeft(bytes.TrimPrefix(body, bom), " \t\r\n")
	for _, p := range [][]byte{[]byte("<?xml"), []byte("<tv"), []byte("<!DOCTYPE tv")} {
		if bytes.HasPrefix(b, p) {
			return true
		}
	}
	return false
}
