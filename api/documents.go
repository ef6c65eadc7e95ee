package api

import (
	"encoding/base64"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

func newDocumentID() string { return uuid.NewString() }

// Document is a proof-of-delivery artifact attached to a mission, typically
// a signed CMR scan or a photo taken at the dock.
type Document struct {
	ID          string    `json:"id"`
	MissionID   string    `json:"mission_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int       `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`

	data []byte
}

// DocumentLog stores uploaded documents per mission.
type DocumentLog struct {
	mu   sync.RWMutex
	byID map[string][]Document
}

// NewDocumentLog creates an empty DocumentLog.
func NewDocumentLog() *DocumentLog {
	return &DocumentLog{byID: map[string][]Document{}}
}

// Add appends a document to a mission.
func (l *DocumentLog) Add(d Document) {
	l.mu.Lock()
	l.byID[d.MissionID] = append(l.byID[d.MissionID], d)
	l.mu.Unlock()
}

// List returns the documents of a mission, oldest first.
func (l *DocumentLog) List(missionID string) []Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	docs := make([]Document, len(l.byID[missionID]))
	copy(docs, l.byID[missionID])
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.Before(docs[j].UploadedAt) })
	return docs
}

type uploadDocumentRequest struct {
	Name        string `json:"name" validate:"required"`
	ContentType string `json:"content_type" validate:"required"`
	DataBase64  string `json:"data_base64" validate:"required"`
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.machine.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	var req uploadDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	doc := Document{
		ID:          newDocumentID(),
		MissionID:   id,
		Name:        req.Name,
		ContentType: req.ContentType,
		SizeBytes:   len(data),
		UploadedAt:  time.Now(),
		data:        data,
	}
	s.documents.Add(doc)
	s.log.Infof("document %s (%d bytes) attached to mission %s", doc.Name, doc.SizeBytes, id)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.machine.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.documents.List(id))
}
