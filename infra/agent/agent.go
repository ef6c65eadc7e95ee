// Package agent runs the driver-side companion process: a durable outbox in
// front of the dispatch server. Writes are accepted locally at all times and
// drained upstream whenever connectivity allows.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rt-technologie/freightd/core/logger"
	"github.com/rt-technologie/freightd/core/sync"
)

// HTTPSubmitter delivers queued mutations to the dispatch server. Transport
// failures and 5xx answers are retryable; a 4xx answer is a permanent
// rejection.
type HTTPSubmitter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSubmitter creates a submitter for the server at baseURL.
func NewHTTPSubmitter(baseURL string) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// statusMutation is the payload of STATUS and SIGNATURE mutations.
type statusMutation struct {
	MissionID       string `json:"mission_id"`
	Command         string `json:"command"`
	ExpectedVersion int64  `json:"expected_version"`
}

// documentMutation is the payload of DOCUMENT mutations.
type documentMutation struct {
	MissionID   string `json:"mission_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	DataBase64  string `json:"data_base64"`
}

// Submit implements sync.Submitter.
func (s *HTTPSubmitter) Submit(ctx context.Context, m sync.Mutation) error {
	switch m.Type {
	case sync.MutationGPS:
		return s.do(ctx, http.MethodPost, "/positions", m.Data)
	case sync.MutationStatus, sync.MutationSignature:
		var sm statusMutation
		if err := json.Unmarshal(m.Data, &sm); err != nil {
			return fmt.Errorf("decode %s payload: %w", m.Type, err)
		}
		if m.Type == sync.MutationSignature {
			sm.Command = "SIGN"
		}
		body, err := json.Marshal(map[string]any{
			"command":          sm.Command,
			"expected_version": sm.ExpectedVersion,
		})
		if err != nil {
			return err
		}
		return s.do(ctx, http.MethodPatch, "/missions/"+sm.MissionID, body)
	case sync.MutationDocument:
		var dm documentMutation
		if err := json.Unmarshal(m.Data, &dm); err != nil {
			return fmt.Errorf("decode document payload: %w", err)
		}
		body, err := json.Marshal(map[string]string{
			"name":         dm.Name,
			"content_type": dm.ContentType,
			"data_base64":  dm.DataBase64,
		})
		if err != nil {
			return err
		}
		return s.do(ctx, http.MethodPost, "/missions/"+dm.MissionID+"/documents", body)
	default:
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
}

func (s *HTTPSubmitter) do(ctx context.Context, method, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return &sync.NetworkError{Op: method + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return &sync.NetworkError{Op: method + " " + path, Err: fmt.Errorf("server answered %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s rejected with %d: %s", method, path, resp.StatusCode, msg)
	}
	return nil
}

// Agent couples the outbox queue with a local enqueue endpoint the driver app
// talks to. The local listener always answers, connected or not.
type Agent struct {
	queue *sync.Queue
	log   logger.Logger
}

// New creates an Agent over the given queue.
func New(queue *sync.Queue, log logger.Logger) (*Agent, error) {
	if queue == nil || log == nil {
		return nil, fmt.Errorf("agent: nil parameter provided to New")
	}
	return &Agent{queue: queue, log: log}, nil
}

type enqueueRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler returns the local HTTP interface of the agent.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /enqueue", a.handleEnqueue)
	mux.HandleFunc("GET /depth", a.handleDepth)
	mux.HandleFunc("POST /online", a.handleOnline)
	return mux
}

func (a *Agent) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := a.queue.Enqueue(r.Context(), sync.MutationType(req.Type), req.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(m)
}

func (a *Agent) handleDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := a.queue.Depth(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"depth": depth})
}

func (a *Agent) handleOnline(w http.ResponseWriter, _ *http.Request) {
	a.queue.Online()
	w.WriteHeader(http.StatusNoContent)
}

// Run serves the local interface and drains the queue until ctx is canceled.
func (a *Agent) Run(ctx context.Context, addr string) error {
	go a.queue.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.log.Infof("agent listening on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
