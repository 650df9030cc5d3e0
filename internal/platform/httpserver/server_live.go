package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	votehttpadapter "agora/contexts/polling/vote-engine/adapters/http"
	voteentities "agora/contexts/polling/vote-engine/domain/entities"
	voteerrors "agora/contexts/polling/vote-engine/domain/errors"
)

// handleLiveResults streams tally updates over Server-Sent Events. The first
// frame is always a snapshot; subsequent frames are deltas, and a closed frame
// ends the stream.
func (s *Server) handleLiveResults(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("poll_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeVoteError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	sub, err := s.hub.Subscribe(r.Context(), pollID, func(ctx context.Context) (voteentities.Tally, error) {
		return s.votes.Handler.Queries.GetTally(ctx, pollID)
	})
	if err != nil {
		if errors.Is(err, voteerrors.ErrPollNotFound) {
			writeVoteError(w, http.StatusNotFound, "poll_not_found", err.Error())
			return
		}
		writeVoteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSEFrame(w, votehttpadapter.MapTallyEvent(event)); err != nil {
				return
			}
			flusher.Flush()
			if event.Kind == voteentities.TallyEventClosed {
				return
			}
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
