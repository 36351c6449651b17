package model

import "bytes"

// RegistryEventType tags events exchanged with the session registry.
type RegistryEventType int

const (
	CreateRoom RegistryEventType = iota
	JoinRoom
	RoomEndpoint
	ListRooms
	RoomList
)

// RegistryEvent is the unit of exchange on a registry connection.
// Which fields are meaningful depends on Type.
type RegistryEvent struct {
	Type     RegistryEventType `json:"type"`
	RoomID   int               `json:"room_id,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"`
	RoomIDs  []int             `json:"room_ids,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// RoomEventType tags events exchanged with a room server.
type RoomEventType int

const (
	RequestIdentity RoomEventType = iota
	Identity
	RequestParticipants
	Participants
	RequestRecordingStatus
	RecordingStatus
	Audio
	AudioBroadcast
	Image
	ToggleRecording
	RecordingArtifact
	ToggleMic
	ToggleSpeaker
	ToggleWebcam
)

// RoomEvent is the unit of exchange on a room connection.
//
// Audio payloads travel in Data as raw sample values. Recording artifacts are
// base64-encoded WAV bytes streamed in FileData slices; ChunkIndex is 1-based
// and ChunkIndex == ChunkCount marks the final slice.
type RoomEvent struct {
	Type       RoomEventType `json:"type"`
	ID         int           `json:"id,omitempty"`
	List       []Participant `json:"list,omitempty"`
	Status     bool          `json:"status,omitempty"`
	Data       []float64     `json:"data,omitempty"`
	Image      []byte        `json:"image,omitempty"`
	Name       string        `json:"name,omitempty"`
	FileData   string        `json:"filedata,omitempty"`
	ChunkIndex int           `json:"chunk_index,omitempty"`
	ChunkCount int           `json:"chunk_count,omitempty"`
}

// Participant is one member's state within a room. IDs are unique within a
// room only, assigned sequentially starting at 1.
type Participant struct {
	ID         int    `json:"id"`
	Microphone bool   `json:"microphone"`
	Speaker    bool   `json:"speaker"`
	Webcam     bool   `json:"webcam"`
	Image      []byte `json:"image,omitempty"`
}

// Equal reports field-wise equality of two participant snapshots.
// Observers use it to detect state changes between directory queries.
func (p Participant) Equal(o Participant) bool {
	return p.ID == o.ID &&
		p.Microphone == o.Microphone &&
		p.Speaker == o.Speaker &&
		p.Webcam == o.Webcam &&
		bytes.Equal(p.Image, o.Image)
}
