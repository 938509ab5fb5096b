package curator

import (
	"context"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/daxserver/curator/internal/handler"
	"gitlab.com/daxserver/curator/internal/hub"
	"gitlab.com/daxserver/curator/internal/pgdb"
	"gitlab.com/daxserver/curator/internal/token"
	"gitlab.com/daxserver/curator/internal/wikiclient"
	"gitlab.com/daxserver/curator/internal/worker"
)

const handlerRequestsPerSecond = 2.0

// tokenCacheSize bounds the worker's in-memory unsealed-token cache (§6):
// large enough to cover a full batch of concurrently-processed jobs without
// keeping every historical token's plaintext resident.
const tokenCacheSize = 256

// contactMailto identifies this bot to Wikimedia per their bot policy,
// embedded into the User-Agent wikiclient.New sends with every request.
const contactMailto = "tools.curator@toolforge.org"

// Init initializes curator for all sites defined in globals: it opens one
// shared PostgreSQL pool, builds the sealed-token store, the handler
// registry, and the live progress hub, and wires them onto every site that
// does not already have them.
//
// It can be called multiple times. In that case it initializes only sites
// which have not been initialized yet.
func Init(ctx context.Context, globals *Globals) errors.E {
	var dbpool *pgxpool.Pool
	for _, site := range globals.Sites {
		if site.DBPool != nil {
			dbpool = site.DBPool
			break
		}
	}
	if dbpool == nil {
		var errE errors.E
		dbpool, errE = pgdb.InitPool(ctx, string(globals.Postgres.URL), globals.Logger)
		if errE != nil {
			return errE
		}
	}

	sealer, errE := token.NewSealer()
	if errE != nil {
		return errE
	}

	tokenCache, errE := token.NewCache(sealer, tokenCacheSize)
	if errE != nil {
		return errE
	}

	registry, errE := buildRegistry(globals)
	if errE != nil {
		return errE
	}

	wikiClient, errE := wikiclient.New(contactMailto)
	if errE != nil {
		return errE
	}

	progressHub := hub.New()
	store := pgdb.NewStore(dbpool)
	httpClient := cleanhttp.DefaultPooledClient()

	for i := range globals.Sites {
		site := &globals.Sites[i]

		if site.DBPool == nil {
			site.DBPool = dbpool
		}
		if site.Store == nil {
			site.Store = store
		}
		if site.Sealer == nil {
			site.Sealer = sealer
		}
		if site.Registry == nil {
			site.Registry = registry
		}
		if site.Hub == nil {
			site.Hub = progressHub
		}
		if site.Worker == nil {
			site.Worker = worker.New(site.Store, sealer, tokenCache, registry, wikiClient, httpClient)
		}
	}

	return nil
}

// buildRegistry constructs the handler.Registry from globals.Handlers,
// registering only the handlers whose credentials were actually configured
// — a deployment running only a Mapillary ingest never needs a Flickr key.
func buildRegistry(globals *Globals) (*handler.Registry, errors.E) {
	var handlers []handler.Handler

	if token := strings.TrimSpace(string(globals.Handlers.MapillaryToken)); token != "" {
		mapillaryHandler, errE := handler.NewMapillaryHandler(token, handlerRequestsPerSecond)
		if errE != nil {
			return nil, errE
		}
		handlers = append(handlers, mapillaryHandler)
	}

	if apiKey := strings.TrimSpace(string(globals.Handlers.FlickrAPIKey)); apiKey != "" {
		handlers = append(handlers, handler.NewFlickrHandler(apiKey, handlerRequestsPerSecond))
	}

	return handler.NewRegistry(handlers...)
}
