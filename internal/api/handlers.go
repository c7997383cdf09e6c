package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bunger-shield/internal/chat"
	"bunger-shield/internal/game"
	"bunger-shield/internal/shield"
)

// requestTimeout bounds how long a handler waits for the server loop.
const requestTimeout = 5 * time.Second

type playerRequest struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

type spawnRequest struct {
	Kind string  `json:"kind"`
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

type commandRequest struct {
	Sender  string `json:"sender"`
	Command string `json:"command"`
}

type completeRequest struct {
	Sender  string `json:"sender"`
	Command string `json:"command"`
}

// entityResponse describes one entity after a change.
type entityResponse struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Kind     game.EntityKind `json:"kind"`
	Position game.Vec3       `json:"position"`
}

type commandResponse struct {
	Success bool           `json:"success"`
	Replies []game.Message `json:"replies"`
}

func toEntityResponse(e *game.Entity) entityResponse {
	return entityResponse{ID: e.ID(), Name: e.Name(), Kind: e.Kind(), Position: e.Location()}
}

// Handler methods for routerHandlers

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	// Lock-free: the loop publishes an immutable snapshot every tick
	writeJSON(w, h.game.Snapshot())
}

func (h *routerHandlers) handleGetShield(w http.ResponseWriter, r *http.Request) {
	var st shield.Status
	err := h.call(r, func() error {
		st = h.shield.Status()
		return nil
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, st)
}

func (h *routerHandlers) handlePlayerJoin(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, "Name is required", http.StatusBadRequest)
		return
	}

	var resp entityResponse
	err := h.call(r, func() error {
		player, err := h.game.Join(req.Name)
		if err != nil {
			return err
		}
		resp = toEntityResponse(player.Entity)
		return nil
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *routerHandlers) handlePlayerQuit(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.call(r, func() error {
		return h.game.Quit(game.PlayerID(req.Name))
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handlePlayerMove(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !decode(w, r, &req) {
		return
	}

	var resp entityResponse
	err := h.call(r, func() error {
		player, ok := h.game.PlayerByName(req.Name)
		if !ok {
			return game.ErrPlayerNotFound
		}
		player.Teleport(game.Vec3{X: req.X, Y: req.Y, Z: req.Z})
		resp = toEntityResponse(player.Entity)
		return nil
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *routerHandlers) handleEntitySpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if !decode(w, r, &req) {
		return
	}
	kind, ok := game.ParseEntityKind(strings.ToLower(req.Kind))
	if !ok {
		writeError(w, "Unknown entity kind: "+req.Kind, http.StatusBadRequest)
		return
	}

	var resp entityResponse
	err := h.call(r, func() error {
		e, err := h.game.SpawnEntity(kind, req.Name, game.Vec3{X: req.X, Y: req.Y, Z: req.Z})
		if err != nil {
			return err
		}
		resp = toEntityResponse(e)
		return nil
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, resp)
}

// handleCommand runs a command line as the console, or as an online player
// when sender is set. Console replies are returned; player replies go to the
// player's own chat.
func (h *routerHandlers) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, "Command is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp := commandResponse{Success: true, Replies: []game.Message{}}
	if req.Sender == "" {
		console := game.NewConsoleSender(h.logger.Named("console"))
		err := h.chat.ProcessConsole(ctx, console, req.Command)
		if replies := console.Replies(); replies != nil {
			resp.Replies = replies
		}
		if err != nil {
			h.writeFailure(w, err)
			return
		}
	} else if err := h.chat.ProcessPlayer(ctx, game.PlayerID(req.Sender), req.Command); err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *routerHandlers) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var id *uuid.UUID
	if req.Sender != "" {
		pid := game.PlayerID(req.Sender)
		id = &pid
	}
	completions, err := h.chat.Complete(ctx, id, req.Command)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if completions == nil {
		completions = []string{}
	}
	writeJSON(w, map[string][]string{"completions": completions})
}

// call runs fn on the server loop with the request's deadline.
func (h *routerHandlers) call(r *http.Request, fn func() error) error {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	return h.game.Call(ctx, fn)
}

// writeFailure maps domain errors to HTTP statuses.
func (h *routerHandlers) writeFailure(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, game.ErrPlayerNotFound):
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyLine):
		code = http.StatusBadRequest
	case errors.Is(err, chat.ErrRateLimited):
		code = http.StatusTooManyRequests
	case errors.Is(err, game.ErrEntityLimit), errors.Is(err, game.ErrNotRunning):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	default:
		code = http.StatusInternalServerError
		h.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, err.Error(), code)
}

// Helper functions (package-level for reuse)

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
