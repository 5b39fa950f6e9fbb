package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/unnati-rahatwal/Techvanza/internal/logging"
	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
)

// BearerAuthMiddleware guards operator routes with a static token.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr := strings.TrimSpace(r.Header.Get("Authorization"))
			scheme, given, ok := strings.Cut(hdr, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(given)), []byte(token)) != 1 {
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPAllowListMiddleware admits only requests whose remote address falls in
// one of cidrs. An empty list admits everything.
func IPAllowListMiddleware(cidrs []string) (func(http.Handler) http.Handler, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		_, netw, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		nets = append(nets, netw)
	}
	if len(nets) == 0 {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			for _, n := range nets {
				if ip != nil && n.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			}
			deny(w, r, http.StatusForbidden, "FORBIDDEN", "source ip not allowed")
		})
	}, nil
}

func deny(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	logging.AddField(r.Context(), "error_code", code)
	writeJSON(w, status, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:    code,
		Message: msg,
	}})
}
