package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/logging"
)

type faultSpec struct {
	status gripper.Register
	value  uint16
}

var faults = map[string]faultSpec{
	"clampDropped":       {gripper.RegClampStatus, gripper.ClampDropped},
	"rotationObstructed": {gripper.RegRotationStatus, gripper.RotationObstructed},
	"rotationDropped":    {gripper.RegRotationStatus, gripper.RotationDropped},
	"rotationStalled":    {gripper.RegRotationStatus, gripper.RotationStalled},
}

type registerValue struct {
	Value uint16 `json:"value"`
}

type registerReading struct {
	Name  string   `json:"name,omitempty"`
	Value uint16   `json:"value"`
	Float *float32 `json:"float,omitempty"`
}

type restAPI struct {
	grippers map[uint8]*simGripper
}

func startRestAPI(addr string, grippers map[uint8]*simGripper) error {
	api := &restAPI{grippers: grippers}
	logging.Info("Gripper simulator REST API listening", "addr", addr)
	return http.ListenAndServe(addr, api.routes())
}

func (a *restAPI) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /gripper/{id}", a.getState)
	mux.HandleFunc("GET /gripper/{id}/register/{addr}", a.getRegister)
	mux.HandleFunc("PUT /gripper/{id}/register/{addr}", a.setRegister)

	// fault injection
	mux.HandleFunc("POST /gripper/{id}/fault/{kind}", a.injectFault)
	mux.HandleFunc("DELETE /gripper/{id}/fault", a.clearFaults)
	return mux
}

/* ------------------------ helpers: json & errors ------------------------ */

func readJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *restAPI) lookup(w http.ResponseWriter, r *http.Request) (*simGripper, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 || id > 255 {
		fail(w, http.StatusBadRequest, "invalid gripper id")
		return nil, false
	}
	g, ok := a.grippers[uint8(id)]
	if !ok {
		fail(w, http.StatusNotFound, "gripper not found")
		return nil, false
	}
	return g, true
}

// parseAddr accepts decimal or 0x-prefixed hex.
func parseAddr(w http.ResponseWriter, s string) (uint16, bool) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid register address")
		return 0, false
	}
	return uint16(v), true
}

/* ------------------------------ handlers -------------------------------- */

func (a *restAPI) getState(w http.ResponseWriter, r *http.Request) {
	g, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g.snapshot())
}

func (a *restAPI) getRegister(w http.ResponseWriter, r *http.Request) {
	g, ok := a.lookup(w, r)
	if !ok {
		return
	}
	addr, ok := parseAddr(w, r.PathValue("addr"))
	if !ok {
		return
	}
	out := registerReading{Value: g.word(addr)}
	if reg, known := gripper.RegisterAt(addr); known {
		out.Name = reg.Name
		if reg.Float {
			if f, err := gripper.RegistersToFloat([]uint16{out.Value, g.word(addr + 1)}); err == nil {
				out.Float = &f
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *restAPI) setRegister(w http.ResponseWriter, r *http.Request) {
	g, ok := a.lookup(w, r)
	if !ok {
		return
	}
	addr, ok := parseAddr(w, r.PathValue("addr"))
	if !ok {
		return
	}
	var req registerValue
	if err := readJSON(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "bad json")
		return
	}
	g.setWord(addr, req.Value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *restAPI) injectFault(w http.ResponseWriter, r *http.Request) {
	g, ok := a.lookup(w, r)
	if !ok {
		return
	}
	kind := r.PathValue("kind")
	f, ok := faults[kind]
	if !ok {
		fail(w, http.StatusBadRequest, "kind must be one of: clampDropped, rotationObstructed, rotationDropped, rotationStalled")
		return
	}
	g.injectFault(f.status, f.value)
	logging.Info("Fault injected", "gripper", g.id, "kind", kind)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "fault": kind})
}

func (a *restAPI) clearFaults(w http.ResponseWriter, r *http.Request) {
	g, ok := a.lookup(w, r)
	if !ok {
		return
	}
	g.clearFaults()
	logging.Info("Faults cleared", "gripper", g.id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
