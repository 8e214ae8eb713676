package cameras

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/visionline/camd/internal/api"
	"github.com/visionline/camd/internal/api/ws"
	"github.com/visionline/camd/internal/app"
	"github.com/visionline/camd/pkg/device"
)

func apiCameras(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	name := query.Get("name")

	switch r.Method {
	case "GET":
		if name == "" {
			statuses := []*Status{}
			for _, cam := range GetAll() {
				statuses = append(statuses, cam.Status())
			}
			api.ResponsePrettyJSON(w, statuses)
			return
		}

		cam := Get(name)
		if cam == nil {
			http.Error(w, "camera not found", http.StatusNotFound)
			return
		}
		api.ResponsePrettyJSON(w, cam.Status())

	case "POST":
		cam := Get(name)
		if cam == nil {
			http.Error(w, "camera not found", http.StatusNotFound)
			return
		}

		ctx := r.Context()

		var err error
		switch action := query.Get("action"); action {
		case "connect":
			err = cam.Connect(ctx)
		case "start":
			err = cam.Start(ctx)
		case "stop":
			err = cam.Stop(ctx)
		case "disconnect":
			err = cam.Disconnect(ctx)
		case "release":
			err = cam.Release(ctx)
		case "trigger":
			err = cam.Trigger(ctx)
		default:
			http.Error(w, "unknown action: "+action, http.StatusBadRequest)
			return
		}

		if err != nil {
			api.Error(w, err)
			return
		}

		api.ResponseJSON(w, cam.Status())

	case "PUT":
		conf := &Config{
			Family:   query.Get("family"),
			Identity: query.Get("identity"),
		}

		cam, err := New(name, conf)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		save := map[string]any{"identity": cam.identity.String()}
		if err = app.PatchConfig([]string{"cameras", name}, save); err != nil {
			log.Warn().Err(err).Str("camera", name).Msg("[cameras] save config")
		}

		api.ResponseJSON(w, cam.Status())

	case "DELETE":
		if err := Remove(r.Context(), name); err != nil {
			api.Error(w, err)
			return
		}

		if err := app.PatchConfig([]string{"cameras", name}, nil); err != nil {
			log.Warn().Err(err).Str("camera", name).Msg("[cameras] save config")
		}

	default:
		http.Error(w, "", http.StatusMethodNotAllowed)
	}
}

type paramResponse struct {
	Name  string        `json:"name"`
	Key   string        `json:"key"`
	Value any           `json:"value"`
	Range *device.Range `json:"range,omitempty"`
}

func apiParam(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	cam := Get(query.Get("name"))
	if cam == nil {
		http.Error(w, "camera not found", http.StatusNotFound)
		return
	}

	key, err := device.ParamName(query.Get("key"))
	if err != nil {
		api.Error(w, err)
		return
	}

	ctx := r.Context()

	switch r.Method {
	case "GET":
	case "POST":
		if !query.Has("value") {
			api.Error(w, fmt.Errorf("%w: value required", api.ErrBadRequest))
			return
		}
		save, _ := strconv.ParseBool(query.Get("save"))
		if err = cam.SetParam(ctx, key, query.Get("value"), save); err != nil {
			api.Error(w, err)
			return
		}
	default:
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	res := paramResponse{Name: cam.Name, Key: key}
	if res.Value, err = cam.Param(ctx, key); err != nil {
		api.Error(w, err)
		return
	}
	if rng, err := cam.Range(ctx, key); err == nil {
		res.Range = &rng
	}

	api.ResponseJSON(w, res)
}

func apiDevices(w http.ResponseWriter, r *http.Request) {
	list, err := Devices(r.Context(), r.URL.Query().Get("family"))
	if err != nil {
		api.Error(w, err)
		return
	}

	type item struct {
		device.Descriptor
		Name string `json:"name"`
	}

	items := make([]item, 0, len(list))
	for _, desc := range list {
		items = append(items, item{Descriptor: desc, Name: desc.Name()})
	}

	api.ResponsePrettyJSON(w, items)
}

// wsCameras sends the camera list and then every status change
// until the connection closes.
func wsCameras(tr *ws.Transport, msg *ws.Message) error {
	statuses := []*Status{}
	for _, cam := range GetAll() {
		statuses = append(statuses, cam.Status())
	}
	tr.Write(&ws.Message{Type: "cameras", Value: statuses})

	remove := OnStatus(func(status *Status) {
		tr.Write(&ws.Message{Type: "camera", Value: status})
	})
	tr.OnClose(remove)

	return nil
}

func wsTrigger(tr *ws.Transport, msg *ws.Message) error {
	cam := Get(msg.String())
	if cam == nil {
		return fmt.Errorf("camera not found: %s", msg.String())
	}
	return cam.Trigger(tr.Request.Context())
}
