package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/ledger"
	"github.com/fundraisely/quizsync/internal/room"
)

// CreateRoomRequest is the host-facing payload for creating a room. Ledger
// fields are optional; supplying a contract address makes the room
// ledger-backed and records it in the ledger store.
type CreateRoomRequest struct {
	RoomID  string                 `json:"room_id,omitempty"`
	Config  room.Config            `json:"config"`
	Rounds  []room.RoundDefinition `json:"rounds"`
	Players []room.Player          `json:"players,omitempty"`
	Admins  []room.Admin           `json:"admins,omitempty"`
}

// PhaseActionRequest drives the room phase state machine from the host UI.
type PhaseActionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Routes returns the full HTTP surface, CORS-wrapped.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.HandleWS)
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms/{id}/state", s.handleRoomState)
	mux.HandleFunc("POST /api/rooms/{id}/phase", s.handlePhaseAction)
	mux.HandleFunc("POST /api/rooms/{id}/players", s.handleRegisterPlayer)
	mux.HandleFunc("GET /api/rooms/{id}/ledger", s.handleRoomLedger)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id := req.RoomID
	if id == "" {
		id = uuid.New().String()
	}

	rm, err := s.registry.Create(id, req.Config, req.Rounds)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	for _, p := range req.Players {
		rm.RegisterPlayer(p)
	}
	for _, a := range req.Admins {
		rm.RegisterAdmin(a)
	}

	if req.Config.LedgerBacked() && s.ledger != nil {
		rec := ledger.Record{
			RoomID:          id,
			ContractAddress: req.Config.ContractAddress,
			EntryFee:        req.Config.EntryFee,
			Currency:        req.Config.Currency,
			HostFeeBps:      req.Config.HostFeeBps,
			PrizePoolBps:    req.Config.PrizePoolBps,
			CharityName:     req.Config.CharityName,
			CharityMemo:     req.Config.CharityMemo,
		}
		if err := s.ledger.Upsert(r.Context(), rec); err != nil {
			log.Error().Err(err).Str("room_id", id).Msg("recording room ledger entry")
		}
	}

	log.Info().Str("room_id", id).Bool("ledger_backed", req.Config.LedgerBacked()).Msg("room created")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"room_id": id})
}

func (s *Server) handleRoomState(w http.ResponseWriter, r *http.Request) {
	rm := s.registry.Get(r.PathValue("id"))
	if rm == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rm.Snapshot()); err != nil {
		log.Error().Err(err).Msg("encoding room state")
	}
}

func (s *Server) handlePhaseAction(w http.ResponseWriter, r *http.Request) {
	rm := s.registry.Get(r.PathValue("id"))
	if rm == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	var req PhaseActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "launch":
		err = rm.Launch()
	case "open_round":
		err = rm.OpenRound()
	case "review":
		err = rm.StartReview()
	case "leaderboard":
		err = rm.ShowLeaderboard()
	case "next_round":
		err = rm.NextRound()
	case "tiebreaker":
		err = rm.StartTiebreaker()
	case "distribute_prizes":
		err = rm.DistributePrizes()
	case "complete":
		err = rm.Complete()
	case "cancel":
		err = rm.Cancel(req.Reason)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	phase, round := rm.Phase()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"phase": phase, "current_round": round})
}

func (s *Server) handleRegisterPlayer(w http.ResponseWriter, r *http.Request) {
	rm := s.registry.Get(r.PathValue("id"))
	if rm == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	var p room.Player
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.ID == "" {
		http.Error(w, "invalid player", http.StatusBadRequest)
		return
	}
	rm.RegisterPlayer(p)
	w.WriteHeader(http.StatusNoContent)
}

// handleRoomLedger exposes the ledger record behind a room so collaborator
// services can reconcile prize distribution.
func (s *Server) handleRoomLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "ledger store not configured", http.StatusNotFound)
		return
	}
	rec, err := s.ledger.GetByRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			http.Error(w, "room is not ledger-backed", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("reading room ledger record")
		http.Error(w, "ledger lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}
