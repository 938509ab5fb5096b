package curator

import (
	"github.com/alecthomas/kong"
	mapset "github.com/deckarep/golang-set/v2"
	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/zerolog"
	"gitlab.com/tozd/waf"
)

const (
	// DefaultProxyTo is the default URL to proxy to during development.
	DefaultProxyTo = "http://localhost:5173"
	// DefaultTLSCache is the default TLS cache directory name for Let's Encrypt certificates.
	DefaultTLSCache = "letsencrypt"
	// DefaultSchema is the default database schema name.
	DefaultSchema = "curator"
	// DefaultTitle is the default application title.
	DefaultTitle = "Curator"
	// DefaultAdminUsername is the sole admin allowed when AdminUsernames is
	// left unconfigured, preserving the original's observed behavior
	// without hard-coding it into the predicate itself.
	DefaultAdminUsername = "DaxServer"
	// DefaultWorkerConcurrency is the serve command's default number of upload
	// worker drivers per site.
	DefaultWorkerConcurrency = 1
)

// PostgresConfig contains configuration for PostgreSQL database connection.
//
//nolint:lll
type PostgresConfig struct {
	URL    kong.FileContentFlag `                           env:"URL_PATH" help:"File with PostgreSQL database URL." placeholder:"PATH" required:"" short:"d" yaml:"database"`
	Schema string               `default:"${defaultSchema}"                help:"Name of PostgreSQL schema to use." placeholder:"NAME"                       yaml:"schema"`
}

// HandlersConfig contains the outbound credentials the Handler Registry's
// concrete handlers need to talk to their upstream photo services.
//
//nolint:lll
type HandlersConfig struct {
	MapillaryToken kong.FileContentFlag `env:"MAPILLARY_TOKEN_PATH" help:"File with Mapillary Graph API access token." placeholder:"PATH" yaml:"mapillaryToken"`
	FlickrAPIKey   kong.FileContentFlag `env:"FLICKR_API_KEY_PATH"  help:"File with Flickr REST API key."              placeholder:"PATH" yaml:"flickrApiKey"`
}

// Globals describes top-level (global) flags.
//
//nolint:lll
type Globals struct {
	zerolog.LoggingConfig `yaml:",inline"`

	Version kong.VersionFlag `help:"Show program's version and exit."                                              short:"V" yaml:"-"`
	Config  cli.ConfigFlag   `help:"Load configuration from a JSON or YAML file." name:"config" placeholder:"PATH" short:"c" yaml:"-"`

	Postgres PostgresConfig `embed:"" envprefix:"POSTGRES_" prefix:"postgres." yaml:"postgres"`
	Handlers HandlersConfig `embed:"" envprefix:"HANDLERS_" prefix:"handlers." yaml:"handlers"`

	AdminUsernames []string `default:"${defaultAdminUsername}" help:"Usernames allowed to call admin endpoints. Can be provided multiple times." name:"admin" placeholder:"USERNAME" yaml:"adminUsernames"`

	Sites []Site `help:"Site configuration as JSON or YAML with fields \"domain\", \"title\", \"cert\", and \"key\". Can be provided multiple times." name:"site" placeholder:"SITE" sep:"none" short:"s" yaml:"sites"`
}

// AdminSet returns the configured admin usernames as a set, backing the
// admin predicate (§9 Open Question 2).
func (g *Globals) AdminSet() mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(g.AdminUsernames...)
}

// Validate validates the global configuration.
func (g *Globals) Validate() error {
	domains := mapset.NewThreadUnsafeSet[string]()
	for i, site := range g.Sites {
		// This is not validated when Site is not populated by Kong.
		if site.Domain == "" {
			return errors.Errorf(`domain is required for site at index %d`, i)
		}

		// To make sure validation is called.
		err := site.Validate()
		if err != nil {
			return errors.WithStack(err)
		}

		// We cannot use kong to set these defaults, so we do it here.
		if site.Title == "" {
			site.Title = DefaultTitle
		}

		if !domains.Add(site.Domain) {
			return errors.Errorf(`duplicate site for domain "%s"`, site.Domain)
		}

		// Site might have been changed, so we assign it back.
		g.Sites[i] = site
	}

	return nil
}

// Config provides configuration.
// It is used as configuration for Kong command-line parser as well.
type Config struct {
	Globals `yaml:"globals"`

	Serve   ServeCommand   `cmd:"" default:"withargs" help:"Run the curator web server and upload worker pool. Default command." yaml:"serve"`
	Migrate MigrateCommand `cmd:""                    help:"Apply PostgreSQL schema migrations."                                  yaml:"migrate"`
}

// ServeCommand contains configuration for the serve command. Per §5, the
// worker scheduler's pool runs inside this same process alongside the web
// scheduler, sharing one Hub per site, so Concurrency lives here rather than
// on a separate command.
//
//nolint:lll
type ServeCommand struct {
	Server waf.Server[*Site] `embed:"" yaml:",inline"`

	Domain      string `                                 group:"Let's Encrypt:" help:"Domain name to request for Let's Encrypt's certificate when sites are not configured." name:"tls.domain" placeholder:"STRING"           yaml:"domain"`
	Title       string `default:"${defaultTitle}"                               help:"Title to be shown to the users when sites are not configured."                      placeholder:"NAME"   short:"T" yaml:"title"`
	Concurrency int    `default:"${defaultWorkerConcurrency}"                   help:"Number of upload jobs processed concurrently, per site."                            placeholder:"N"                 yaml:"concurrency"`
}

// Validate validates the serve command configuration.
func (c *ServeCommand) Validate() error {
	// We have to call Validate on kong-embedded structs ourselves.
	// See: https://github.com/alecthomas/kong/issues/90
	err := c.Server.TLS.Validate()
	if err != nil {
		return errors.WithStack(err)
	}

	if c.Domain != "" && c.Server.TLS.Email == "" {
		return errors.New("contact e-mail is required for Let's Encrypt's certificate")
	}

	return nil
}

// MigrateCommand contains configuration for the migrate command.
type MigrateCommand struct {
	Command string `arg:"" default:"up" enum:"up,down,status,redo,reset" help:"Goose migration command to run." yaml:"command"`
}
