package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/rt-technologie/freightd/core/mission"
	"github.com/rt-technologie/freightd/core/model"
)

type createMissionRequest struct {
	ID        string `json:"id" validate:"required"`
	Reference string `json:"reference"`
	ShipperID string `json:"shipper_id"`

	LoadingPoint  geofencePointDTO `json:"loading_point" validate:"required"`
	DeliveryPoint geofencePointDTO `json:"delivery_point" validate:"required"`

	Chain          []string `json:"chain" validate:"required,min=1,dive,required"`
	SLAAcceptHours float64  `json:"sla_accept_hours" validate:"omitempty,gt=0"`
}

type geofencePointDTO struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	RadiusM   float64 `json:"radius_m" validate:"gte=0"`
}

func (d geofencePointDTO) toModel() model.GeofencePoint {
	return model.GeofencePoint{
		Coordinates: model.Coordinates{Latitude: d.Latitude, Longitude: d.Longitude},
		Name:        d.Name,
		Address:     d.Address,
		RadiusM:     d.RadiusM,
	}
}

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req createMissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sla := time.Duration(req.SLAAcceptHours * float64(time.Hour))
	if sla <= 0 {
		sla = 2 * time.Hour
	}
	now := time.Now()
	m := model.Mission{
		ID:            req.ID,
		Reference:     req.Reference,
		ShipperID:     req.ShipperID,
		Status:        model.StatusPending,
		Version:       1,
		LoadingPoint:  req.LoadingPoint.toModel(),
		DeliveryPoint: req.DeliveryPoint.toModel(),
		Policy:        model.DispatchPolicy{Chain: req.Chain, SLAAccept: sla},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Put(r.Context(), m, 0); err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Infof("mission %s created", m.ID)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.machine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type patchMissionRequest struct {
	Command         string `json:"command" validate:"required"`
	ExpectedVersion int64  `json:"expected_version" validate:"required,gt=0"`
}

func (s *Server) handlePatchMission(w http.ResponseWriter, r *http.Request) {
	var req patchMissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd, err := mission.ParseCommand(req.Command)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m, err := s.machine.ApplyCommand(r.Context(), r.PathValue("id"), cmd, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("dispatching is disabled"))
		return
	}
	if err := s.engine.Offer(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatching"})
}

type resolveOfferRequest struct {
	CandidateID string `json:"candidate_id" validate:"required"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.resolveOffer(w, r, true)
}

func (s *Server) handleRefuse(w http.ResponseWriter, r *http.Request) {
	s.resolveOffer(w, r, false)
}

func (s *Server) resolveOffer(w http.ResponseWriter, r *http.Request, accept bool) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("dispatching is disabled"))
		return
	}
	var req resolveOfferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := r.PathValue("id")
	var err error
	if accept {
		err = s.engine.Accept(r.Context(), id, req.CandidateID)
	} else {
		err = s.engine.Refuse(r.Context(), id, req.CandidateID)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
