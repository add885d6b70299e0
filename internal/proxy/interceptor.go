package proxy

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// FailureReporter is told about requests that failed at the transport level
type FailureReporter interface {
	ReportFailure(err error)
}

// Interceptor routes every outgoing GET through the first matching Route.
// Other methods go to the network untouched.
type Interceptor struct {
	routes   []Route
	network  http.RoundTripper
	reporter FailureReporter
}

// NewInterceptor creates an interceptor. reporter may be nil.
func NewInterceptor(network http.RoundTripper, routes []Route, reporter FailureReporter) *Interceptor {
	if network == nil {
		network = http.DefaultTransport
	}
	return &Interceptor{
		routes:   routes,
		network:  network,
		reporter: reporter,
	}
}

// Classify returns the route handling req, and false when none matches
func (i *Interceptor) Classify(req *http.Request) (Route, bool) {
	for _, route := range i.routes {
		if route.Match(req) {
			return route, true
		}
	}
	return Route{}, false
}

// RoundTrip implements http.RoundTripper
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return i.fetch(req)
	}

	route, ok := i.Classify(req)
	if !ok {
		return i.fetch(req)
	}

	resp, err := route.Strategy.Serve(req, i.fetch)
	if err != nil {
		logrus.Warnf("%s %s failed (%s): %v", req.Method, req.URL, route.Name, err)
		return nil, err
	}
	logrus.Infof("%s %s -> %d [%s %s]", req.Method, req.URL, resp.StatusCode, route.Name, resp.Header.Get(HeaderCache))
	return resp, nil
}

func (i *Interceptor) fetch(req *http.Request) (*http.Response, error) {
	resp, err := i.network.RoundTrip(req)
	if err != nil && i.reporter != nil {
		i.reporter.ReportFailure(err)
	}
	return resp, err
}
