package server

import (
	"fmt"
	"net/http"

	"github.com/alfredjeanlab/carts/internal/model"
)

// Request bodies. Pointer fields distinguish a missing value from zero.

type moveRequest struct {
	DeviceID  *int64 `json:"id_dispositivo" validate:"required"`
	ClientID  *int64 `json:"id_cliente" validate:"required"`
	Operation *int64 `json:"id_operacion" validate:"required"`
	Obstacle  *int64 `json:"id_obstaculo"`
}

func (r moveRequest) command() model.MovementCommand {
	return model.MovementCommand{DeviceID: *r.DeviceID, ClientID: *r.ClientID, Operation: *r.Operation, Obstacle: r.Obstacle}
}

type obstacleRequest struct {
	DeviceID *int64 `json:"id_dispositivo" validate:"required"`
	ClientID *int64 `json:"id_cliente" validate:"required"`
	Obstacle *int64 `json:"id_obstaculo"`
}

func (r obstacleRequest) command() model.ObstacleCommand {
	return model.ObstacleCommand{DeviceID: *r.DeviceID, ClientID: *r.ClientID, Obstacle: r.Obstacle}
}

type speedRequest struct {
	DeviceID *int64 `json:"id_dispositivo" validate:"required"`
	ClientID *int64 `json:"id_cliente" validate:"required"`
	Speed    *int64 `json:"id_velocidad" validate:"required"`
}

func (r speedRequest) command() model.SpeedCommand {
	return model.SpeedCommand{DeviceID: *r.DeviceID, ClientID: *r.ClientID, Speed: *r.Speed}
}

type sequenceRequest struct {
	Name     string  `json:"nombre"`
	Steps    []int64 `json:"movimientos"`
	DeviceID *int64  `json:"id_dispositivo" validate:"required"`
	ClientID *int64  `json:"id_cliente" validate:"required"`
}

func (r sequenceRequest) command() model.SequenceCommand {
	return model.SequenceCommand{Name: r.Name, Steps: r.Steps, DeviceID: *r.DeviceID, ClientID: *r.ClientID}
}

// sequenceResponse is the reply to a submitted sequence.
func sequenceResponse(id int64, cmd model.SequenceCommand) map[string]any {
	return map[string]any{
		"ok":                true,
		"id_secuencia":      id,
		"total_movimientos": len(cmd.Steps),
		"mensaje":           fmt.Sprintf("Secuencia '%s' (ID %d) enviada al carrito con %d movimientos", cmd.Name, id, len(cmd.Steps)),
	}
}

// handleMove handles POST /api/move.
func (s *CartsServer) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	ev, err := s.pipeline.RecordMovement(r.Context(), req.command())
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleObstacle handles POST /api/obstaculo.
func (s *CartsServer) handleObstacle(w http.ResponseWriter, r *http.Request) {
	var req obstacleRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	ev, err := s.pipeline.RecordObstacle(r.Context(), req.command())
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "evento": ev})
}

// handleSpeed handles POST /api/speed.
func (s *CartsServer) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	ev, err := s.pipeline.RecordSpeed(r.Context(), req.command())
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleSequence handles POST /api/sequence.
func (s *CartsServer) handleSequence(w http.ResponseWriter, r *http.Request) {
	var req sequenceRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	cmd := req.command()
	id, err := s.pipeline.SubmitSequence(r.Context(), cmd)
	if err != nil {
		body := map[string]any{"error": err.Error()}
		// The sequence was already sent to the cart when only the step
		// records failed.
		if id != 0 {
			body["id_secuencia"] = id
		}
		writeJSON(w, httpStatus(err), body)
		return
	}
	writeJSON(w, http.StatusOK, sequenceResponse(id, cmd))
}
