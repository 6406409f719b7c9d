package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/kwv/refframe/frames"
)

// frameView is the JSON form of one frame
type frameView struct {
	Key     string            `json:"key"`
	Parent  frames.Frame      `json:"parent"`
	Child   frames.Frame      `json:"child"`
	State   frames.FrameState `json:"state"`
	Inverse bool              `json:"inverse,omitempty"`
	Matrix  [16]float64       `json:"matrix"`
}

func newFrameView(k frames.Key, state frames.FrameState, t frames.Transform) frameView {
	return frameView{
		Key:    k.String(),
		Parent: k.Parent,
		Child:  k.Child,
		State:  state,
		Matrix: t.RowMajor(),
	}
}

// newHTTPServer creates the read-only frames API over a frozen station
func newHTTPServer(station *frames.Station) http.Handler {
	mux := http.NewServeMux()
	reg := station.Registry

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		writeJSON(w, http.StatusOK, struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Frames    int       `json:"frames"`
			Frozen    bool      `json:"frozen"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Frames:    reg.Len(),
			Frozen:    reg.Frozen(),
		})
	})

	mux.HandleFunc("GET /frames", func(w http.ResponseWriter, r *http.Request) {
		keys := reg.Keys()
		out := make([]frameView, 0, len(keys))
		for _, k := range keys {
			t, err := reg.Get(k)
			if err != nil {
				writeError(w, err)
				return
			}
			out = append(out, newFrameView(k, reg.State(k), t))
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /frames/{key}", func(w http.ResponseWriter, r *http.Request) {
		k, err := frames.ParseKey(r.PathValue("key"))
		if err != nil {
			writeError(w, err)
			return
		}
		inverse := r.URL.Query().Get("inverse") == "true"

		var t frames.Transform
		if inverse {
			t, err = reg.GetInverse(k)
		} else {
			t, err = reg.Get(k)
		}
		if err != nil {
			writeError(w, err)
			return
		}

		view := newFrameView(k, reg.State(k), t)
		view.Inverse = inverse
		writeJSON(w, http.StatusOK, view)
	})

	mux.HandleFunc("GET /targets", func(w http.ResponseWriter, r *http.Request) {
		names := make([]string, 0, len(station.Config.Targets))
		for _, t := range station.Config.Targets {
			names = append(names, t.Name)
		}
		writeJSON(w, http.StatusOK, names)
	})

	mux.HandleFunc("GET /targets/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if station.Config.GetTarget(name) == nil {
			http.Error(w, "unknown target: "+name, http.StatusNotFound)
			return
		}
		cmd, err := station.Target(name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cmd)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding response: %v", err)
	}
}

// writeError maps registry errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, frames.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, frames.ErrUnknownFrame):
		status = http.StatusNotFound
	}
	log.Printf("[HTTP] %d: %v", status, err)
	http.Error(w, err.Error(), status)
}
