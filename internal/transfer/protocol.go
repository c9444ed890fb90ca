// Package transfer moves binary assets between the privileged fetcher and the
// export orchestrator over a named message channel, as JSON frames carrying
// base64 chunks of bounded size.
package transfer

import "encoding/json"

const (
	// ChannelName is the name sessions are opened on.
	ChannelName = "videoDownload"
	// ChunkSize is the number of source bytes carried by one chunk frame.
	ChunkSize = 4 << 20

	// ActionDownloadVideo is the only request action a server answers.
	ActionDownloadVideo = "downloadVideo"
)

// MessageType discriminates frames sent by the server.
type MessageType string

const (
	TypeMeta  MessageType = "meta"
	TypeChunk MessageType = "chunk"
	TypeDone  MessageType = "done"
	TypeError MessageType = "error"
)

// Request is the first and only frame a requester sends on a session.
type Request struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

// Message is a server frame. Only the fields relevant to Type are set.
type Message struct {
	Type        MessageType `json:"type"`
	TotalSize   int64       `json:"totalSize"`
	TotalChunks int         `json:"totalChunks"`
	MimeType    string      `json:"mimeType"`
	Index       int         `json:"index"`
	Data        string      `json:"data"`
	Error       string      `json:"error"`
}

// MarshalJSON writes exactly the fields of m's frame type, zero values included.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeMeta:
		return json.Marshal(struct {
			Type        MessageType `json:"type"`
			TotalSize   int64       `json:"totalSize"`
			TotalChunks int         `json:"totalChunks"`
			MimeType    string      `json:"mimeType"`
		}{m.Type, m.TotalSize, m.TotalChunks, m.MimeType})
	case TypeChunk:
		return json.Marshal(struct {
			Type  MessageType `json:"type"`
			Index int         `json:"index"`
			Data  string      `json:"data"`
		}{m.Type, m.Index, m.Data})
	case TypeError:
		return json.Marshal(struct {
			Type  MessageType `json:"type"`
			Error string      `json:"error"`
		}{m.Type, m.Error})
	default:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
		}{m.Type})
	}
}

// Blob is a fully reassembled asset.
type Blob struct {
	Data     []byte
	MimeType string
}
