package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lyzr/orchestrator/common/model"
)

// sseEncoder writes model.Event values as server-sent event frames, flushing
// after every write so a client sees events as they're published rather than
// buffered until the response closes.
type sseEncoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEEncoder(w http.ResponseWriter) *sseEncoder {
	flusher, _ := w.(http.Flusher)
	return &sseEncoder{w: w, flusher: flusher}
}

func (e *sseEncoder) write(ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
