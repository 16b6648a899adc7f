package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
)

// AnnouncementType is the envelope type reserved for discovery datagrams.
// It lives in the self-describing range and is never routed through the
// dispatch registry; only discovery sockets carry it.
const AnnouncementType byte = 255

// DefaultPort is the well-known discovery broadcast port.
const DefaultPort = 47777

var (
	ErrNotAnnouncement       = errors.New("discovery: envelope is not an announcement")
	ErrAnnouncementIncomplete = errors.New("discovery: announcement missing required fields")
)

// Announcement is the self-describing payload a hosting server broadcasts.
// Message must match the listeners' configured secret text for the
// announcement to be accepted.
type Announcement struct {
	Message string `json:"message"`
	IP      string `json:"ip"`
	Name    string `json:"name"`
	Port    int    `json:"port"`
}

func (a Announcement) Validate() error {
	if strings.TrimSpace(a.Message) == "" || strings.TrimSpace(a.IP) == "" || a.Port <= 0 {
		return ErrAnnouncementIncomplete
	}
	return nil
}

// EncodeAnnouncement frames one announcement for the wire.
func EncodeAnnouncement(a Announcement) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("discovery: encode announcement: %w", err)
	}
	return frame.Encode(frame.Envelope{Type: AnnouncementType, Payload: payload}), nil
}

// DecodeAnnouncement recovers an announcement from a decoded envelope.
func DecodeAnnouncement(env frame.Envelope) (Announcement, error) {
	if env.Type != AnnouncementType {
		return Announcement{}, fmt.Errorf("%w: type=%d", ErrNotAnnouncement, env.Type)
	}
	var a Announcement
	if err := json.Unmarshal(env.Payload, &a); err != nil {
		return Announcement{}, fmt.Errorf("discovery: decode announcement: %w", err)
	}
	if err := a.Validate(); err != nil {
		return Announcement{}, err
	}
	return a, nil
}
