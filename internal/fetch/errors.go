package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed.
type Kind string

const (
	KindNetwork                  Kind = "network"
	KindAllProxiesExhausted      Kind = "all-proxies-exhausted"
	KindDecompressionUnsupported Kind = "decompression-unsupported"
	KindDecompressionFailed      Kind = "decompression-failed"
	KindEmptyBody                Kind = "empty-body"
	KindNotXMLLike               Kind = "not-xml-like"
)

// Error is returned by Fetch. URL is the guide URL the caller asked for,
// never a proxy-wrapped form.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

var (
	errEmptyBody = errors.New("empty response body")
	errTooLarge  = errors.New("document exceeds size limit")
)
