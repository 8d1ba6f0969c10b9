package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/aboutnine/internal/processor"
	"github.com/MikeSquared-Agency/aboutnine/internal/signal"
)

const (
	maxRoomPeers   = 2
	roomWriteLimit = 5 * time.Second
)

var errPeerReplaced = errors.New("peer reconnected elsewhere")

// room handles GET /ws/rooms/{room}?peer=ID. Text frames carry signal
// messages; the server relays them to the other peer and the room's session
// records transcript chunks. A room holds at most two peers.
func (s *Server) room(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	peer := r.URL.Query().Get("peer")
	if !signal.ValidRoom(room) {
		writeError(w, http.StatusBadRequest, "invalid room name")
		return
	}
	if peer == "" || peer == processor.RecorderPeer {
		writeError(w, http.StatusBadRequest, "peer is required")
		return
	}

	peers := slices.DeleteFunc(s.deps.Hub.Peers(room), func(p string) bool {
		return p == processor.RecorderPeer || p == peer
	})
	if len(peers) >= maxRoomPeers {
		writeError(w, http.StatusConflict, "room is full")
		return
	}

	if err := s.deps.Processor.AttachHub(r.Context(), s.deps.Hub, room); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.deps.OriginPatterns,
	})
	if err != nil {
		s.deps.Logger.Warn("websocket accept failed", "room", room, "peer", peer, "error", err)
		return
	}
	defer conn.CloseNow()

	ch := s.deps.Hub.Join(room, peer)
	defer ch.Close()

	ctx := r.Context()
	s.deps.Metrics.RoomPeers.Add(ctx, 1)
	defer s.deps.Metrics.RoomPeers.Add(context.WithoutCancel(ctx), -1)
	s.deps.Logger.Info("peer joined room", "room", room, "peer", peer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.relayInbound(gctx, conn, ch, room, peer) })
	g.Go(func() error { return relayOutbound(gctx, conn, ch) })
	err = g.Wait()

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway,
		errors.Is(err, context.Canceled), errors.Is(err, errPeerReplaced):
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		s.deps.Logger.Warn("room connection ended", "room", room, "peer", peer, "error", err)
		conn.Close(websocket.StatusInternalError, "relay failed")
	}
	s.deps.Logger.Info("peer left room", "room", room, "peer", peer)
}

// relayInbound publishes frames from the browser into the room. Invalid
// messages are reported back to the sender and skipped.
func (s *Server) relayInbound(ctx context.Context, conn *websocket.Conn, ch signal.Channel, room, peer string) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		m, err := signal.Decode(data)
		if err == nil {
			m.From = peer
			m.Offerer = ""
			if m.Kind == signal.KindReady {
				m.Offerer = s.electOfferer(room, peer)
			}
			err = ch.Publish(ctx, m)
		}
		if err == nil && m.Offerer != "" {
			// The sender learns the election from its own ready.
			if werr := writeFrame(ctx, conn, m); werr != nil {
				return werr
			}
		}
		if err != nil {
			s.deps.Logger.Debug("rejected room message", "room", room, "peer", peer, "error", err)
			if werr := writeFrame(ctx, conn, map[string]string{"type": "error", "error": err.Error()}); werr != nil {
				return werr
			}
		}
	}
}

// electOfferer picks the peer that creates the offer once peer has a
// partner in room. It returns "" while peer is alone.
func (s *Server) electOfferer(room, peer string) string {
	others := slices.DeleteFunc(s.deps.Hub.Peers(room), func(p string) bool {
		return p == processor.RecorderPeer || p == peer
	})
	if len(others) != 1 {
		return ""
	}
	if signal.ShouldOffer(peer, others[0]) {
		return peer
	}
	return others[0]
}

// relayOutbound writes room messages addressed to this peer. The channel
// only closes when the same peer joins again from another connection.
func relayOutbound(ctx context.Context, conn *websocket.Conn, ch signal.Channel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch.Messages():
			if !ok {
				return errPeerReplaced
			}
			if err := writeFrame(ctx, conn, m); err != nil {
				return err
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, roomWriteLimit)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
