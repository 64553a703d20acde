package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	FrameUnparseable FrameKind = iota
	FrameKeepAlive
	FrameData
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameKeepAlive:
		return "keepalive"
	case FrameData:
		return "data"
	case FrameError:
		return "error"
	default:
		return "unparseable"
	}
}

// Frame is a parsed inbound message.
type Frame struct {
	Kind FrameKind
	TrID string

	// JSON frames
	Body    json.RawMessage // Data: the body object
	Code    string          // Error: msg_cd
	Message string          // Error: msg1

	// Realtime records: <enc>|<tr_id>|<count>|f1^f2^...
	Encrypted bool
	Count     int
	Fields    []string

	Raw []byte
}

// Err returns the StreamDataError for error and unparseable frames, nil otherwise.
func (f Frame) Err() *StreamDataError {
	switch f.Kind {
	case FrameError:
		return &StreamDataError{Code: f.Code, Message: f.Message, Raw: f.Raw}
	case FrameUnparseable:
		return &StreamDataError{Message: "unparseable frame", Raw: f.Raw}
	default:
		return nil
	}
}

// StreamDataError reports a single bad inbound frame. It never ends a session.
type StreamDataError struct {
	Code    string // msg_cd, empty for unparseable frames
	Message string
	Raw     []byte
}

func (e *StreamDataError) Error() string {
	if e.Code == "" {
		return "stream data error: " + e.Message
	}
	return fmt.Sprintf("stream data error %s: %s", e.Code, e.Message)
}

type envelope struct {
	Header struct {
		TrID string `json:"tr_id"`
	} `json:"header"`
	Body json.RawMessage `json:"body"`
}

type resultBody struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// ParseFrame classifies one inbound message.
func ParseFrame(data []byte) Frame {
	if len(data) > 0 && (data[0] == '0' || data[0] == '1') {
		return parseRecord(data)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{Kind: FrameUnparseable, Raw: data}
	}

	if env.Header.TrID == TrIDPingPong {
		return Frame{Kind: FrameKeepAlive, TrID: TrIDPingPong, Raw: data}
	}

	if len(env.Body) == 0 || bytes.Equal(env.Body, []byte("null")) {
		return Frame{Kind: FrameUnparseable, TrID: env.Header.TrID, Raw: data}
	}

	var body resultBody
	if err := json.Unmarshal(env.Body, &body); err != nil || body.RtCd == "" {
		return Frame{Kind: FrameUnparseable, TrID: env.Header.TrID, Raw: data}
	}

	if body.RtCd == "0" {
		return Frame{Kind: FrameData, TrID: env.Header.TrID, Body: env.Body, Raw: data}
	}

	return Frame{
		Kind:    FrameError,
		TrID:    env.Header.TrID,
		Code:    body.MsgCd,
		Message: body.Msg1,
		Raw:     data,
	}
}

// parseRecord decodes the pipe-delimited realtime format.
func parseRecord(data []byte) Frame {
	parts := strings.SplitN(string(data), "|", 4)
	if len(parts) != 4 || parts[1] == "" {
		return Frame{Kind: FrameUnparseable, Raw: data}
	}

	count, err := strconv.Atoi(parts[2])
	if err != nil || count < 1 {
		return Frame{Kind: FrameUnparseable, TrID: parts[1], Raw: data}
	}

	return Frame{
		Kind:      FrameData,
		TrID:      parts[1],
		Encrypted: parts[0] == "1",
		Count:     count,
		Fields:    strings.Split(parts[3], "^"),
		Raw:       data,
	}
}
