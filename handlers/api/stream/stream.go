// Package stream serves the Server-Sent-Events feed that pushes headcount
// snapshots and announcements to connected dashboards.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mealtrack/core"
	"mealtrack/handlers/auth"
	"mealtrack/headcount"
	"mealtrack/notify"
	"mealtrack/stores"

	"github.com/sirupsen/logrus"
)

// heartbeatInterval keeps intermediaries from closing idle connections.
// Shortened by tests.
var heartbeatInterval = 30 * time.Second

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func snapshotJSON(r *http.Request, store stores.Store, hub *notify.Hub, date string) ([]byte, error) {
	snapshot, err := headcount.BuildSnapshot(r.Context(), store, hub, date)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshot)
}

// HandleStream upgrades the request to an SSE session. EventSource clients
// cannot set headers, so the JWT arrives as a token query parameter. An
// optional date parameter scopes the headcount feed; it defaults to today.
func HandleStream(store stores.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "Missing token", http.StatusUnauthorized)
			return
		}
		user, err := auth.UserFromToken(r.Context(), store, token)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		date := r.URL.Query().Get("date")
		if date == "" {
			date = core.Today()
		}
		if !core.ValidDate(date) {
			http.Error(w, "Date must be in YYYY-MM-DD format", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		headcountHandle := hub.Register(notify.ChannelHeadcount)
		announcementHandle := hub.Register(notify.ChannelAnnouncement)
		defer hub.Unregister(notify.ChannelHeadcount, headcountHandle)
		defer hub.Unregister(notify.ChannelAnnouncement, announcementHandle)

		log := logrus.WithFields(logrus.Fields{"user_id": user.ID, "date": date})
		log.Info("SSE stream opened")
		defer log.Info("SSE stream closed")

		// Every session starts with a snapshot so clients render without
		// waiting for the first change.
		data, err := snapshotJSON(r, store, hub, date)
		if err != nil {
			log.WithError(err).Error("Failed to build initial snapshot")
			return
		}
		writeEvent(w, flusher, "headcount", data)

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-headcountHandle.Signal():
				data, err := snapshotJSON(r, store, hub, date)
				if err != nil {
					log.WithError(err).Error("Failed to build snapshot")
					return
				}
				writeEvent(w, flusher, "headcount", data)
			case <-announcementHandle.Signal():
				if payload := hub.LatestAnnouncement(); payload != nil {
					writeEvent(w, flusher, "announcement", payload)
				}
			case <-heartbeat.C:
				writeEvent(w, flusher, "heartbeat", nil)
			}
		}
	}
}
