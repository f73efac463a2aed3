// README: Driver presence as kept by the candidate sources.
package location

import (
	"time"

	"ridematch/internal/types"
)

// Presence is a driver's last reported position and whether they accept
// rides.
type Presence struct {
	DriverID types.ID
	Position types.Point
	Active   bool
	LastSeen time.Time
}

// PresenceUpdate is what a driver app reports.
type PresenceUpdate struct {
	DriverID types.ID
	Lat      float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng      float64 `json:"lng" validate:"gte=-180,lte=180"`
	Active   bool    `json:"active"`
}
