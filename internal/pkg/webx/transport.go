package webx

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "gzip, deflate, br, zstd"

// decoders maps a Content-Encoding token to a reader that undoes it. The
// returned closer, when not nil, releases decoder state.
var decoders = map[string]func(io.Reader) (io.Reader, func(), error){
	"gzip": func(r io.Reader) (io.Reader, func(), error) {
		zr, err := kgzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { _ = zr.Close() }, nil
	},
	"deflate": func(r io.Reader) (io.Reader, func(), error) {
		fr := kflate.NewReader(r)
		return fr, func() { _ = fr.Close() }, nil
	},
	"br": func(r io.Reader) (io.Reader, func(), error) {
		return brotli.NewReader(r), nil, nil
	},
	"zstd": func(r io.Reader) (io.Reader, func(), error) {
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	},
}

type Option func(*compressedTransport)

// WithUserAgent sets User-Agent on requests that carry none.
func WithUserAgent(ua string) Option {
	return func(t *compressedTransport) { t.userAgent = ua }
}

type compressedTransport struct {
	base      http.RoundTripper
	userAgent string
}

// NewCompressedTransport wraps base, or a clone of the default transport when
// base is nil, so outbound calls accept every encoding taskd can decode.
// DisableCompression is forced so net/http leaves the body alone.
func NewCompressedTransport(base *http.Transport, opts ...Option) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	base.DisableCompression = true
	t := &compressedTransport{base: base}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *compressedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	needEncoding := req.Header.Get("Accept-Encoding") == ""
	needUA := t.userAgent != "" && req.Header.Get("User-Agent") == ""
	if needEncoding || needUA {
		req = req.Clone(req.Context())
		if needEncoding {
			req.Header.Set("Accept-Encoding", acceptEncoding)
		}
		if needUA {
			req.Header.Set("User-Agent", t.userAgent)
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	decode, ok := decoders[strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))]
	if !ok {
		return resp, nil
	}
	r, release, err := decode(resp.Body)
	if err != nil {
		// undecodable bodies are handed back as-is
		return resp, nil
	}

	resp.Body = &decodedBody{Reader: r, release: release, body: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

type decodedBody struct {
	io.Reader
	release func()
	body    io.Closer
}

func (d *decodedBody) Close() error {
	if d.release != nil {
		d.release()
	}
	return d.body.Close()
}
