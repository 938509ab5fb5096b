package curator

import (
	"encoding/json"
	"io"
	"net/http"

	"gitlab.com/tozd/go/x"
	"gitlab.com/tozd/waf"

	"gitlab.com/daxserver/curator/internal/pgdb"
)

// presetView renders a pgdb.Preset for JSON, carrying Data as a raw JSON
// object rather than the base64 string encoding/json gives a bare []byte.
type presetView struct {
	ID        int64           `json:"id"`
	Handler   string          `json:"handler"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	IsDefault bool            `json:"isDefault"`
}

func newPresetView(p pgdb.Preset) presetView {
	return presetView{ID: p.ID, Handler: p.Handler, Name: p.Name, Data: json.RawMessage(p.Data), IsDefault: p.IsDefault}
}

// getPresets returns the session user's saved presets for the path's handler tag.
func (s *Service) getPresets(w http.ResponseWriter, req *http.Request) {
	site := siteFromContext(req.Context())
	sess, _ := SessionFromContext(req.Context()) //nolint:errcheck
	handlerTag := req.PathValue("handler")

	presets, errE := site.Store.GetPresets(req.Context(), sess.UserID, handlerTag)
	if errE != nil {
		waf.Error(w, req, http.StatusInternalServerError)
		return
	}

	views := make([]presetView, len(presets))
	for i, p := range presets {
		views[i] = newPresetView(p)
	}
	writeJSON(w, req, views)
}

type upsertPresetRequest struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// putPreset creates or updates a named preset for the session user and the
// path's handler tag.
func (s *Service) putPreset(w http.ResponseWriter, req *http.Request) {
	site := siteFromContext(req.Context())
	sess, _ := SessionFromContext(req.Context()) //nolint:errcheck
	handlerTag := req.PathValue("handler")

	var body upsertPresetRequest
	rawBody, err := io.ReadAll(req.Body)
	if err != nil {
		waf.Error(w, req, http.StatusBadRequest)
		return
	}
	if errE := x.UnmarshalWithoutUnknownFields(rawBody, &body); errE != nil {
		waf.Error(w, req, http.StatusBadRequest)
		return
	}

	preset, errE := site.Store.UpsertPreset(req.Context(), sess.UserID, handlerTag, body.Name, []byte(body.Data))
	if errE != nil {
		waf.Error(w, req, http.StatusInternalServerError)
		return
	}

	writeJSON(w, req, newPresetView(*preset))
}

type setDefaultPresetRequest struct {
	PresetID int64 `json:"presetId"`
}

// setDefaultPreset flips which preset is the default one for the session
// user and the path's handler tag.
func (s *Service) setDefaultPreset(w http.ResponseWriter, req *http.Request) {
	site := siteFromContext(req.Context())
	sess, _ := SessionFromContext(req.Context()) //nolint:errcheck
	handlerTag := req.PathValue("handler")

	var body setDefaultPresetRequest
	rawBody, err := io.ReadAll(req.Body)
	if err != nil {
		waf.Error(w, req, http.StatusBadRequest)
		return
	}
	if errE := x.UnmarshalWithoutUnknownFields(rawBody, &body); errE != nil {
		waf.Error(w, req, http.StatusBadRequest)
		return
	}

	errE := site.Store.SetDefaultPreset(req.Context(), sess.UserID, handlerTag, body.PresetID)
	if errE != nil {
		waf.Error(w, req, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// adminStatus reports the handlers this deployment has registered, a
// minimal admin surface exercising RequireAdmin without reaching into the
// elaborate admin listing endpoints explicitly out of scope for this
// service.
func (s *Service) adminStatus(w http.ResponseWriter, req *http.Request) {
	site := siteFromContext(req.Context())
	writeJSON(w, req, map[string]interface{}{
		"handlers": site.Registry.Tags(),
	})
}

func writeJSON(w http.ResponseWriter, req *http.Request, v interface{}) {
	payload, errE := x.MarshalWithoutEscapeHTML(v)
	if errE != nil {
		waf.Error(w, req, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload) //nolint:errcheck
}
