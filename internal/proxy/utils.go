package proxy

import (
	"bufio"
	"bytes"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"
)

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// outgoing turns a received request into a client request for the network
func outgoing(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	if !out.URL.IsAbs() {
		out.URL.Scheme = "http"
		if r.TLS != nil {
			out.URL.Scheme = "https"
		}
		out.URL.Host = r.Host
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return out
}

func removeHopHeaders(h http.Header) {
	for _, key := range hopHeaders {
		h.Del(key)
	}
}

// dumbResponseWriter lets goproxy hijack a raw connection accepted by the transparent listener
type dumbResponseWriter struct {
	net.Conn
}

func (dumbResponseWriter) Header() http.Header {
	logrus.Errorf("Header() should not be called on a hijacked connection")
	return http.Header{}
}

func (dumbResponseWriter) Write(buf []byte) (int, error) {
	if bytes.Equal(buf, []byte("HTTP/1.0 200 OK\r\n\r\n")) {
		return len(buf), nil // throw away the HTTP OK response from the faux CONNECT request
	}
	logrus.Errorf("Unexpected write on a hijacked connection")
	return len(buf), nil
}

func (dumbResponseWriter) WriteHeader(code int) {
	logrus.Errorf("WriteHeader(%d) should not be called on a hijacked connection", code)
}

func (d dumbResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return d, bufio.NewReadWriter(bufio.NewReader(d), bufio.NewWriter(d)), nil
}
