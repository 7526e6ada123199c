package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// Identity headers set on forwarded requests. Client-supplied values are
// always stripped.
const (
	HeaderUserID     = "X-Pharmagate-User-Id"
	HeaderUserEmail  = "X-Pharmagate-User-Email"
	HeaderUserRole   = "X-Pharmagate-User-Role"
	HeaderPatientID  = "X-Pharmagate-Patient-Id"
	HeaderPharmacyID = "X-Pharmagate-Pharmacy-Id"
)

var identityHeaders = []string{HeaderUserID, HeaderUserEmail, HeaderUserRole, HeaderPatientID, HeaderPharmacyID}

// NewUpstreamHandler returns a reverse proxy to target. An empty target
// yields a handler that answers every request with a JSON 404.
func NewUpstreamHandler(target string, timeout time.Duration, logger *slog.Logger) (http.Handler, error) {
	if target == "" {
		return http.HandlerFunc(notFound), nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q must be http or https", target)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			if xff := pr.In.Header.Values("X-Forwarded-For"); len(xff) > 0 {
				pr.Out.Header["X-Forwarded-For"] = xff
			}
			pr.SetXForwarded()

			for _, h := range identityHeaders {
				pr.Out.Header.Del(h)
			}
			if p := PrincipalFromContext(pr.In.Context()); p != nil {
				pr.Out.Header.Set(HeaderUserID, p.UserID)
				pr.Out.Header.Set(HeaderUserEmail, p.Email)
				pr.Out.Header.Set(HeaderUserRole, string(p.Role))
				if p.PatientID != "" {
					pr.Out.Header.Set(HeaderPatientID, p.PatientID)
				}
				if p.PharmacyID != "" {
					pr.Out.Header.Set(HeaderPharmacyID, p.PharmacyID)
				}
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			LoggerFromContext(r.Context()).Error("upstream request failed",
				"path", r.URL.Path,
				"error", err,
			)
			writeError(w, http.StatusBadGateway, "Bad gateway")
		},
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}, nil
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}
