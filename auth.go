package curator

import (
	"context"
	"net/http"

	mapset "github.com/deckarep/golang-set/v2"
	"gitlab.com/tozd/waf"
)

// Session is the authenticated user attached to a request's context. The
// OAuth1 handshake that populates it (MediaWiki's mwoauth dance) is HTTP
// session-handshake internals, out of scope per spec.md's Non-goals; this
// type and the middleware below are the contract the rest of the service
// depends on instead of that handshake's implementation.
type Session struct {
	Username     string
	UserID       string
	AccessToken  string
	AccessSecret string
}

type sessionContextKey struct{}

// WithSession attaches sess to ctx.
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext retrieves the Session attached by RequireSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(Session)
	return sess, ok
}

// SessionHeaders names the upstream-trusted headers RequireSession reads the
// session from.
type SessionHeaders struct {
	Username     string
	UserID       string
	AccessToken  string
	AccessSecret string
}

// RequireSession is the minimal session-reading middleware: it trusts a
// session already established upstream (by whatever OAuth1 handshake
// terminates in front of this handler, mwoauth's AccessToken in the
// original) and rejects requests missing the username/userid pair,
// mirroring app/auth.py's check_login contract without reimplementing its
// handshake. The access token/secret are carried the same way but are not
// required — an anonymous-but-logged-in session is nonsensical for uploads,
// but FetchImages/FetchBatches do not need them.
func RequireSession(headers SessionHeaders) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			username := req.Header.Get(headers.Username)
			userid := req.Header.Get(headers.UserID)
			if username == "" || userid == "" {
				waf.Error(w, req, http.StatusUnauthorized)
				return
			}

			sess := Session{
				Username:     username,
				UserID:       userid,
				AccessToken:  req.Header.Get(headers.AccessToken),
				AccessSecret: req.Header.Get(headers.AccessSecret),
			}
			ctx := WithSession(req.Context(), sess)
			handler.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// RequireAdmin 403s any request whose session username is not in admins,
// the Go equivalent of admin.py's check_admin (§9 Open Question 2): the
// predicate is a configured allow-set rather than a literal comparison, but
// defaults to the single username the original hard-coded.
func RequireAdmin(admins mapset.Set[string]) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, ok := SessionFromContext(req.Context())
			if !ok || !admins.Contains(sess.Username) {
				waf.Error(w, req, http.StatusForbidden)
				return
			}
			handler.ServeHTTP(w, req)
		})
	}
}
