package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

type boolResponse struct {
	Response bool `json:"response"`
}

// serveJoinID returns the id of a joinable room as plain text, creating a
// fresh lobby only when none is open. Keyspace exhaustion is the one
// unrecoverable failure and surfaces as a 500.
func serveJoinID(cfg *Config, s *Server, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		id, err := s.JoinID(r.Context())
		if err != nil {
			http.Error(w, "no room ids left", http.StatusInternalServerError)
			errs <- err

			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		written, err := w.Write([]byte(id))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Join id %s (%s) to %s in %s",
			id,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func writeJSON(cfg *Config, w http.ResponseWriter, errs chan<- error, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		errs <- err
	}
}

func serveCanJoin(cfg *Config, s *Server, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		roomID := strings.TrimPrefix(p.ByName("id"), "id=")

		writeJSON(cfg, w, errs, boolResponse{
			Response: s.CanJoin(r.Context(), roomID),
		})
	}
}

func serveGetPlayers(cfg *Config, s *Server, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		roomID := strings.TrimPrefix(p.ByName("id"), "id=")

		players := s.RoomPlayers(r.Context(), roomID)
		if players == nil {
			players = []PublicPlayer{}
		}

		writeJSON(cfg, w, errs, players)
	}
}

func serveHasPlayer(cfg *Config, s *Server, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		gameID := strings.TrimPrefix(p.ByName("game"), "game=")
		firstID := strings.TrimPrefix(p.ByName("player"), "player=")

		writeJSON(cfg, w, errs, boolResponse{
			Response: s.GameHasPlayer(r.Context(), gameID, firstID),
		})
	}
}

// serveRoomQR renders a PNG QR code of a room's shareable URL.
func serveRoomQR(cfg *Config, w http.ResponseWriter, r *http.Request, roomID string) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	url := scheme + "://" + r.Host + cfg.prefix + "/room=" + roomID

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func servePage(cfg *Config, w http.ResponseWriter, title, body string, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	_, _ = w.Write([]byte(newPage(title, body)))
}

// servePages routes the cosmetic page URLs, whose "key=value" path segments
// httprouter cannot parameterize:
//
//	/room=<id>            : lobby page, or not-found when the room is closed
//	/room=<id>/qr         : QR code for sharing the lobby link
//	/game=<id>/player=<first_id> : game page, gated on game membership
func servePages(cfg *Config, s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, cfg.prefix)
		segments := strings.Split(strings.Trim(path, "/"), "/")

		switch {
		case strings.HasPrefix(segments[0], "room="):
			roomID := strings.TrimPrefix(segments[0], "room=")

			if len(segments) == 2 && segments[1] == "qr" {
				serveRoomQR(cfg, w, r, roomID)
				return
			}

			_ = getOrSetPlayerID(w, r)

			if s.CanJoin(r.Context(), roomID) {
				servePage(cfg, w, "Room "+roomID, "Waiting for players in room "+roomID+".", http.StatusOK)
			} else {
				servePage(cfg, w, "Not Found", "No such room.", http.StatusNotFound)
			}
			return

		case strings.HasPrefix(segments[0], "game=") && len(segments) == 2 && strings.HasPrefix(segments[1], "player="):
			gameID := strings.TrimPrefix(segments[0], "game=")
			firstID := strings.TrimPrefix(segments[1], "player=")

			if s.GameHasPlayer(r.Context(), gameID, firstID) {
				servePage(cfg, w, "Game "+gameID, "Game "+gameID+" in progress.", http.StatusOK)
			} else {
				servePage(cfg, w, "Not Found", "No such game.", http.StatusNotFound)
			}
			return
		}

		servePage(cfg, w, "Not Found", "Page not found.", http.StatusNotFound)
	}
}

func registerLobbyAPI(cfg *Config, s *Server, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+"/.room.join_id", serveJoinID(cfg, s, errs))
	mux.GET(cfg.prefix+"/.room.can_join/:id", serveCanJoin(cfg, s, errs))
	mux.GET(cfg.prefix+"/.room.get_players/:id", serveGetPlayers(cfg, s, errs))
	mux.GET(cfg.prefix+"/.game.has_player/:game/:player", serveHasPlayer(cfg, s, errs))

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, s))

	mux.NotFound = servePages(cfg, s)
}
