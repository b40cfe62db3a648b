// Package protocol defines the JSON envelopes exchanged between the SDK's
// cloud client and the map backend over a websocket connection.
//
// Every request carries a client-chosen ID that the server echoes on each
// reply. Uploads are sent as a sequence of chunks, each acknowledged with the
// running byte count; downloads stream back the same way. The final chunk of
// either direction carries an xxhash checksum of the whole payload.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Op names a request type.
type Op string

const (
	OpPing            Op = "ping"
	OpAddMap          Op = "add_map"
	OpUpload          Op = "upload"
	OpDownload        Op = "download"
	OpDelete          Op = "delete"
	OpList            Op = "list"
	OpSearch          Op = "search"
	OpGetMeta         Op = "get_meta"
	OpSetMeta         Op = "set_meta"
	OpUploadDataset   Op = "upload_dataset"
	OpUploadThumbnail Op = "upload_thumbnail"
)

// Chunked reports whether requests of this op carry their body as a chunk
// sequence.
func (o Op) Chunked() bool {
	switch o {
	case OpUpload, OpUploadDataset, OpUploadThumbnail:
		return true
	default:
		return false
	}
}

func (o Op) Valid() bool {
	switch o {
	case OpPing, OpAddMap, OpUpload, OpDownload, OpDelete, OpList, OpSearch,
		OpGetMeta, OpSetMeta, OpUploadDataset, OpUploadThumbnail:
		return true
	default:
		return false
	}
}

// Code classifies a failed request.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeNoContent    Code = "no_content"
	CodeInvalid      Code = "invalid"
	CodeChecksum     Code = "checksum"
	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal"
)

// Envelope is the single frame type of the protocol.
type Envelope struct {
	ID    string `json:"id"`
	Op    Op     `json:"op"`
	MapID string `json:"map_id,omitempty"`

	// Chunk bookkeeping for uploads and downloads.
	Seq      int    `json:"seq,omitempty"`
	Final    bool   `json:"final,omitempty"`
	Done     int64  `json:"done,omitempty"`
	Total    int64  `json:"total,omitempty"`
	Checksum uint64 `json:"checksum,omitempty"`
	Data     []byte `json:"data,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`

	Code  Code   `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewRequest starts a request with a fresh ID.
func NewRequest(op Op) *Envelope {
	return &Envelope{ID: uuid.NewString(), Op: op}
}

// Reply starts a response to e.
func (e *Envelope) Reply() *Envelope {
	return &Envelope{ID: e.ID, Op: e.Op, MapID: e.MapID}
}

// Fail builds an error response to e.
func (e *Envelope) Fail(code Code, err error) *Envelope {
	r := e.Reply()
	r.Code = code
	r.Error = err.Error()
	return r
}

// Failed reports whether e is an error response.
func (e *Envelope) Failed() bool {
	return e.Code != "" || e.Error != ""
}

// Err returns the error carried by a failed response, or nil.
func (e *Envelope) Err() error {
	if !e.Failed() {
		return nil
	}
	code := e.Code
	if code == "" {
		code = CodeInternal
	}
	return &RemoteError{Op: e.Op, Code: code, Message: e.Error}
}

// SetPayload marshals v into the envelope payload.
func (e *Envelope) SetPayload(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", e.Op, err)
	}
	e.Payload = raw
	return nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: %w", e.Op, ErrMissingPayload)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Op, err)
	}
	return nil
}

// PingPayload authenticates a session.
type PingPayload struct {
	APIKey string `json:"api_key"`
}
