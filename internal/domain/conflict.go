package domain

import "time"

// IPConflict is the annotation recorded when one IP address is evidenced on
// more than one link address. The resolver never merges on this evidence:
// both interfaces stay distinct and the most recent claim wins the "current
// owner" view.
type IPConflict struct {
	ID string `json:"id"`
	IP string `json:"ip"`
	// InterfaceIDs lists every interface that claimed the IP, sorted.
	InterfaceIDs []string  `json:"interface_ids"`
	Observations []string  `json:"observations,omitempty"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// NewIPConflict creates the conflict annotation for an IP.
func NewIPConflict(ip string, at time.Time) *IPConflict {
	return &IPConflict{
		ID:        ConflictIDForIP(ip),
		IP:        ip,
		FirstSeen: at,
		LastSeen:  at,
	}
}

// AddParty records one disputing interface and the observation backing it.
func (c *IPConflict) AddParty(interfaceID, observationID string, at time.Time) {
	c.InterfaceIDs = insertSorted(c.InterfaceIDs, interfaceID)
	if observationID != "" {
		c.Observations = insertSorted(c.Observations, observationID)
	}
	if at.Before(c.FirstSeen) || c.FirstSeen.IsZero() {
		c.FirstSeen = at
	}
	if at.After(c.LastSeen) {
		c.LastSeen = at
	}
}
