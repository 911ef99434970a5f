package engine

import (
	"encoding/json"
	"fmt"
)

// PartyID names one party of a call.
type PartyID struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
}

// Populated reports whether the identity carries any data.
func (id PartyID) Populated() bool {
	return id.Name != "" || id.Number != ""
}

// Caller is the calling-party information a channel was created with.
type Caller struct {
	ID  PartyID `json:"id"`
	ANI PartyID `json:"ani"`
}

func (c Caller) Populated() bool {
	return c.ID.Populated() || c.ANI.Populated()
}

// Connected is the connected-line information accumulated on a channel
// as the far end changes during the call.
type Connected struct {
	ID     PartyID `json:"id"`
	Source int     `json:"source,omitempty"`
}

func (c Connected) Populated() bool {
	return c.ID.Populated()
}

// Redirecting describes who diverted the call and where it went.
type Redirecting struct {
	From   PartyID `json:"from"`
	To     PartyID `json:"to"`
	Reason int     `json:"reason,omitempty"`
	Count  int     `json:"count,omitempty"`
}

func (r Redirecting) Populated() bool {
	return r.From.Populated() || r.To.Populated()
}

// Dialed is the dialed-party information.
type Dialed struct {
	Number string `json:"number,omitempty"`
}

func (d Dialed) Populated() bool {
	return d.Number != ""
}

// CallerFromConnected builds caller info out of connected-line info,
// used when one leg's far end becomes the other leg's caller.
func CallerFromConnected(c Connected) Caller {
	return Caller{ID: c.ID, ANI: c.ID}
}

// ConnectedFromCaller builds connected-line info out of caller info.
func ConnectedFromCaller(c Caller) Connected {
	return Connected{ID: c.ID}
}

// MarshalConnected serializes connected-line info for transport inside
// a control frame payload.
func MarshalConnected(c Connected) []byte {
	b, _ := json.Marshal(c)
	return b
}

// UnmarshalConnected is the inverse of MarshalConnected.
func UnmarshalConnected(b []byte) (Connected, error) {
	var c Connected
	if err := json.Unmarshal(b, &c); err != nil {
		return Connected{}, fmt.Errorf("decode connected-line payload: %w", err)
	}
	return c, nil
}

// MarshalRedirecting serializes redirecting info for transport inside
// a control frame payload.
func MarshalRedirecting(r Redirecting) []byte {
	b, _ := json.Marshal(r)
	return b
}

// UnmarshalRedirecting is the inverse of MarshalRedirecting.
func UnmarshalRedirecting(b []byte) (Redirecting, error) {
	var r Redirecting
	if err := json.Unmarshal(b, &r); err != nil {
		return Redirecting{}, fmt.Errorf("decode redirecting payload: %w", err)
	}
	return r, nil
}
