package webx

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func newDeflateWriter(w io.Writer) io.WriteCloser {
	fw, _ := kflate.NewWriter(w, kflate.DefaultCompression)
	return fw
}

func TestCompressedTransportDecodes(t *testing.T) {
	const payload = `{"status":"ok"}`

	encoders := map[string]func(w io.Writer) io.WriteCloser{
		"gzip":    func(w io.Writer) io.WriteCloser { return kgzip.NewWriter(w) },
		"deflate": newDeflateWriter,
		"br":      func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
		"zstd": func(w io.Writer) io.WriteCloser {
			enc, _ := zstd.NewWriter(w)
			return enc
		},
	}

	for name, newEncoder := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			enc := newEncoder(&buf)
			_, _ = enc.Write([]byte(payload))
			_ = enc.Close()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Accept-Encoding") != acceptEncoding {
					http.Error(w, "missing accept-encoding", http.StatusBadRequest)
					return
				}
				w.Header().Set("Content-Encoding", name)
				_, _ = w.Write(buf.Bytes())
			}))
			defer srv.Close()

			client := &http.Client{Transport: NewCompressedTransport(nil)}
			resp, err := client.Get(srv.URL)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if string(body) != payload {
				t.Fatalf("body = %q, want %q", body, payload)
			}
			if resp.Header.Get("Content-Encoding") != "" {
				t.Fatalf("content-encoding left on decoded response")
			}
		})
	}
}

func TestCompressedTransportUserAgent(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewCompressedTransport(nil, WithUserAgent("taskd/test"))}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	if len(got) != 2 || got[0] != "taskd/test" || got[1] != "custom" {
		t.Fatalf("user agents = %v", got)
	}
}
