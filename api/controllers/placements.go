package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vitawell/vitawell-backend/api/responses"
	"github.com/vitawell/vitawell-backend/api/validators"
	"github.com/vitawell/vitawell-backend/internal/matrix"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
	"github.com/vitawell/vitawell-backend/pkg/logger"
)

const (
	defaultSubtreeDepth = 3
	maxSubtreeDepth     = 10
)

type createPlacementRequest struct {
	UserID            string `json:"user_id" validate:"required,uuid"`
	SponsorID         string `json:"sponsor_id" validate:"required,uuid"`
	PreferredPosition string `json:"preferred_position" validate:"omitempty,oneof=left right"`
}

// CreatePlacement adds a participant under their sponsor, spilling over to the
// nearest open slot when the sponsor's direct slots are taken.
func CreatePlacement(svc matrix.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matrix service unavailable"))
			return
		}

		var req createPlacementRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}
		sponsorID, err := uuid.Parse(req.SponsorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sponsor id"))
			return
		}

		input := matrix.PlaceInput{UserID: userID, SponsorID: sponsorID}
		if req.PreferredPosition != "" {
			position, err := enums.ParseMatrixPosition(req.PreferredPosition)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid preferred position"))
				return
			}
			input.Preferred = &position
		}

		placement, err := svc.Place(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPlacementResponse(placement))
	}
}

// GetPlacement returns the matrix node for one participant.
func GetPlacement(svc matrix.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matrix service unavailable"))
			return
		}

		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		placement, err := svc.GetPlacement(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlacementResponse(placement))
	}
}

// GetChildren returns the direct children of a participant's node.
func GetChildren(svc matrix.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matrix service unavailable"))
			return
		}

		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		children, err := svc.GetChildren(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlacementResponses(children))
	}
}

// GetSubtree returns the participant's subtree in breadth-first order, capped
// by the depth query parameter.
func GetSubtree(svc matrix.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matrix service unavailable"))
			return
		}

		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		depth, err := validators.ParseQueryInt(r, "depth", defaultSubtreeDepth, 1, maxSubtreeDepth)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		nodes, err := svc.GetSubtree(r.Context(), userID, depth)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlacementResponses(nodes))
	}
}

// GetUpline returns the chain of ancestors from the root down to the
// participant's parent.
func GetUpline(svc matrix.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "matrix service unavailable"))
			return
		}

		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		upline, err := svc.GetUpline(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPlacementResponses(upline))
	}
}

func parseUserID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "userId"))
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return userID, nil
}
