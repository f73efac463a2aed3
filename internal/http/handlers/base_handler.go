// README: Base handler utilities (JSON helpers, error mapping, caller checks).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridematch/internal/http/middleware"
	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

type errorResponse struct {
	Error  string   `json:"error"`
	RideID types.ID `json:"rideId,omitempty"`
}

// isValidID accepts the ids issued by this service and by the upstream ride
// service: uuids, hex and usernames.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' || c == '.' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeMatchingError(c *gin.Context, rideID types.ID, err error) {
	switch {
	case errors.Is(err, matching.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResponse{Error: "Matching not found", RideID: rideID})
	case errors.Is(err, matching.ErrBadRequest), errors.Is(err, matching.ErrInvalidConfirmation):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: err.Error(), RideID: rideID})
	case errors.Is(err, matching.ErrDuplicateSession):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), RideID: rideID})
	case errors.Is(err, matching.ErrShuttingDown):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// driverPath returns the :id path parameter when it names the caller.
func driverPath(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return "", false
	}
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "drivers may only act on their own id")
		return "", false
	}
	return types.ID(id), true
}
