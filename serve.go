// Package curator implements a collaboration platform for bulk-uploading
// third-party photos to Wikimedia Commons with Structured Data on Commons.
package curator

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/waf"

	"gitlab.com/daxserver/curator/internal/hub"
)

// sessionHeaders names the upstream-trusted headers the reverse proxy
// terminating the OAuth1 handshake is expected to set.
var sessionHeaders = SessionHeaders{ //nolint:gochecknoglobals
	Username:     "X-Curator-Username",
	UserID:       "X-Curator-Userid",
	AccessToken:  "X-Curator-Access-Token",
	AccessSecret: "X-Curator-Access-Secret",
}

// Service is the main HTTP service for curator.
type Service struct {
	globals *Globals
	sites   map[string]*Site
}

// Init initializes the HTTP service and is used primarily in tests. Use Run otherwise.
func (c *ServeCommand) Init(ctx context.Context, globals *Globals) (http.Handler, *Service, errors.E) {
	c.Server.Logger = globals.Logger

	sites := map[string]*Site{}
	for i := range globals.Sites {
		site := &globals.Sites[i]
		sites[site.Domain] = site
	}

	if len(sites) == 0 && c.Domain != "" {
		globals.Sites = []Site{{
			Site:   waf.Site{Domain: c.Domain},
			Schema: globals.Postgres.Schema,
			Title:  c.Title,
		}}
		sites[c.Domain] = &globals.Sites[0]
	}

	sitesProvided := len(sites) > 0
	sites, errE := c.Server.Init(sites)
	if errE != nil {
		return nil, nil, errE
	}

	if !sitesProvided {
		for domain, site := range sites {
			site.Schema = globals.Postgres.Schema
			site.Title = c.Title
			globals.Sites = append(globals.Sites, *site)
			sites[domain] = &globals.Sites[len(globals.Sites)-1]
		}
	}

	if cli.Version != "" || cli.BuildTimestamp != "" || cli.Revision != "" {
		for _, site := range sites {
			site.Build = &Build{
				Version:        cli.Version,
				BuildTimestamp: cli.BuildTimestamp,
				Revision:       cli.Revision,
			}
		}
	}

	errE = Init(ctx, globals)
	if errE != nil {
		return nil, nil, errE
	}

	service := &Service{globals: globals, sites: sites}

	return service.routes(globals), service, nil
}

// routes builds the HTTP handler: the live progress hub's WebSocket upgrade,
// the presets CRUD surface, and a minimal admin status endpoint. Routing
// itself is plain net/http, not reflection-driven, since HTTP routing
// internals are explicitly out of scope for this service.
func (s *Service) routes(globals *Globals) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(hub.WSChannelAddress, RequireSession(sessionHeaders)(http.HandlerFunc(s.serveWS)))

	mux.Handle("GET /api/presets/{handler}", RequireSession(sessionHeaders)(http.HandlerFunc(s.getPresets)))
	mux.Handle("PUT /api/presets/{handler}", RequireSession(sessionHeaders)(http.HandlerFunc(s.putPreset)))
	mux.Handle("POST /api/presets/{handler}/default", RequireSession(sessionHeaders)(http.HandlerFunc(s.setDefaultPreset)))

	mux.Handle("GET /api/admin/status", RequireSession(sessionHeaders)(RequireAdmin(globals.AdminSet())(http.HandlerFunc(s.adminStatus))))

	return s.withSite(mux)
}

// withSite resolves the request's Host to a configured Site and attaches it
// to the request context; unconfigured hosts (or a single default site) fall
// back to the lone site when exactly one is configured.
func (s *Service) withSite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		site, ok := s.sites[req.Host]
		if !ok && len(s.sites) == 1 {
			for _, only := range s.sites {
				site = only
			}
			ok = true
		}
		if !ok {
			waf.Error(w, req, http.StatusNotFound)
			return
		}

		ctx := context.WithValue(req.Context(), siteContextKey{}, site)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

type siteContextKey struct{}

func siteFromContext(ctx context.Context) *Site {
	site, _ := ctx.Value(siteContextKey{}).(*Site) //nolint:errcheck
	return site
}

// serveWS upgrades the connection and runs the hub's client loop for the
// resolved site, with a dealer closed over this connection's session.
func (s *Service) serveWS(w http.ResponseWriter, req *http.Request) {
	site := siteFromContext(req.Context())
	sess, _ := SessionFromContext(req.Context()) //nolint:errcheck

	errE := site.Hub.Serve(req.Context(), w, req, &dealer{site: site, sess: sess}, s.globals.Logger)
	if errE != nil {
		s.globals.Logger.Error().Err(errE).Msg("websocket upgrade failed")
	}
}

// Run starts the HTTP server and the upload worker pool in this same
// process, so both schedulers share one Hub per §5, and serves the curator
// application until shutdown.
func (c *ServeCommand) Run(globals *Globals) errors.E {
	// We stop the server gracefully on ctrl-c and TERM signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, _, errE := c.Init(ctx, globals)
	if errE != nil {
		return errE
	}

	workerErrs := make(chan errors.E, 1)
	go func() {
		workerErrs <- runWorkerPool(ctx, globals, c.Concurrency)
	}()

	// It returns only on error or if the server is gracefully shut down using ctrl-c.
	serveErr := c.Server.Run(ctx, handler)
	stop()
	if workerErr := <-workerErrs; workerErr != nil && serveErr == nil {
		return workerErr
	}
	return serveErr
}
