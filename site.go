package curator

import (
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/waf"
	"gopkg.in/yaml.v3"

	"gitlab.com/daxserver/curator/internal/handler"
	"gitlab.com/daxserver/curator/internal/hub"
	"gitlab.com/daxserver/curator/internal/pgdb"
	"gitlab.com/daxserver/curator/internal/token"
	"gitlab.com/daxserver/curator/internal/worker"
)

// Build carries the binary's version/build metadata into the site context
// payload served to the frontend.
type Build struct {
	Version        string `json:"version,omitempty"`
	BuildTimestamp string `json:"buildTimestamp,omitempty"`
	Revision       string `json:"revision,omitempty"`
}

// Site is one served domain: its waf configuration plus the components
// wired up for it by Init — a job store, the sealed-token store, the
// handler registry, and the live progress hub.
type Site struct {
	waf.Site `yaml:",inline"`

	Build *Build `json:"build,omitempty" yaml:"-"`

	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
	Title  string `json:"title,omitempty"  yaml:"title,omitempty"`

	DBPool   *pgxpool.Pool     `json:"-" yaml:"-"`
	Store    *pgdb.Store       `json:"-" yaml:"-"`
	Sealer   *token.Sealer     `json:"-" yaml:"-"`
	Registry *handler.Registry `json:"-" yaml:"-"`
	Hub      *hub.Hub          `json:"-" yaml:"-"`
	Worker   *worker.Worker    `json:"-" yaml:"-"`
}

func (s *Site) Decode(ctx *kong.DecodeContext) error {
	var value string
	err := ctx.Scan.PopValueInto("value", &value)
	if err != nil {
		return errors.WithStack(err)
	}
	decoder := yaml.NewDecoder(strings.NewReader(value))
	decoder.KnownFields(true)
	err = decoder.Decode(s)
	if err != nil {
		var yamlErr *yaml.TypeError
		if errors.As(err, &yamlErr) {
			e := "error"
			if len(yamlErr.Errors) > 1 {
				e = "errors"
			}
			return errors.Errorf("yaml: unmarshal %s: %s", e, strings.Join(yamlErr.Errors, "; "))
		} else if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.WithStack(err)
	}
	return nil
}
