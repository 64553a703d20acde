package connection

import (
	"encoding/json"
	"testing"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantKind FrameKind
		wantTrID string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "keep-alive",
			data:     `{"header":{"tr_id":"PINGPONG","datetime":"20250304093000"}}`,
			wantKind: FrameKeepAlive,
			wantTrID: "PINGPONG",
		},
		{
			name:     "data",
			data:     `{"body":{"rt_cd":"0","msg1":"OK"}}`,
			wantKind: FrameData,
		},
		{
			name:     "subscribe ack",
			data:     `{"header":{"tr_id":"H0STCNT0","tr_key":"005930","encrypt":"N"},"body":{"rt_cd":"0","msg_cd":"OPSP0000","msg1":"SUBSCRIBE SUCCESS"}}`,
			wantKind: FrameData,
			wantTrID: "H0STCNT0",
		},
		{
			name:     "business error",
			data:     `{"body":{"rt_cd":"1","msg_cd":"X","msg1":"bad"}}`,
			wantKind: FrameError,
			wantCode: "X",
			wantMsg:  "bad",
		},
		{
			name:     "not json",
			data:     `hello`,
			wantKind: FrameUnparseable,
		},
		{
			name:     "json without body",
			data:     `{"header":{"tr_id":"H0STCNT0"}}`,
			wantKind: FrameUnparseable,
			wantTrID: "H0STCNT0",
		},
		{
			name:     "null body",
			data:     `{"body":null}`,
			wantKind: FrameUnparseable,
		},
		{
			name:     "body without result code",
			data:     `{"body":{"msg1":"?"}}`,
			wantKind: FrameUnparseable,
		},
		{
			name:     "body not an object",
			data:     `{"body":"text"}`,
			wantKind: FrameUnparseable,
		},
		{
			name:     "realtime record",
			data:     `0|H0STCNT0|001|005930^093354^71900`,
			wantKind: FrameData,
			wantTrID: "H0STCNT0",
		},
		{
			name:     "truncated realtime record",
			data:     `0|H0STCNT0|001`,
			wantKind: FrameUnparseable,
		},
		{
			name:     "realtime record with bad count",
			data:     `0|H0STCNT0|x|005930`,
			wantKind: FrameUnparseable,
			wantTrID: "H0STCNT0",
		},
		{
			name:     "empty",
			data:     ``,
			wantKind: FrameUnparseable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ParseFrame([]byte(tt.data))
			if f.Kind != tt.wantKind {
				t.Fatalf("Kind = %s, want %s", f.Kind, tt.wantKind)
			}
			if f.TrID != tt.wantTrID {
				t.Errorf("TrID = %q, want %q", f.TrID, tt.wantTrID)
			}
			if f.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", f.Code, tt.wantCode)
			}
			if f.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", f.Message, tt.wantMsg)
			}
			if string(f.Raw) != tt.data {
				t.Errorf("Raw = %q, want %q", f.Raw, tt.data)
			}
		})
	}
}

func TestParseFrame_DataBody(t *testing.T) {
	f := ParseFrame([]byte(`{"header":{"tr_id":"H0STCNT0"},"body":{"rt_cd":"0","msg1":"OK"}}`))
	if f.Kind != FrameData {
		t.Fatalf("Kind = %s, want data", f.Kind)
	}

	var body map[string]string
	if err := json.Unmarshal(f.Body, &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["rt_cd"] != "0" || body["msg1"] != "OK" {
		t.Errorf("Body = %s", f.Body)
	}
	if f.Err() != nil {
		t.Error("data frames carry no error")
	}
}

func TestParseFrame_Record(t *testing.T) {
	f := ParseFrame([]byte(`1|H0STCNT0|002|a^b^c^d`))
	if f.Kind != FrameData {
		t.Fatalf("Kind = %s, want data", f.Kind)
	}
	if !f.Encrypted {
		t.Error("Encrypted should be true for a leading 1")
	}
	if f.Count != 2 {
		t.Errorf("Count = %d, want 2", f.Count)
	}
	if len(f.Fields) != 4 || f.Fields[0] != "a" || f.Fields[3] != "d" {
		t.Errorf("Fields = %v", f.Fields)
	}
	if f.Body != nil {
		t.Error("records have no JSON body")
	}
}

func TestFrame_Err(t *testing.T) {
	errFrame := ParseFrame([]byte(`{"body":{"rt_cd":"1","msg_cd":"OPSP0002","msg1":"ALREADY IN SUBSCRIBE"}}`))
	dataErr := errFrame.Err()
	if dataErr == nil {
		t.Fatal("error frame should produce a StreamDataError")
	}
	if dataErr.Error() != "stream data error OPSP0002: ALREADY IN SUBSCRIBE" {
		t.Errorf("Error() = %q", dataErr.Error())
	}

	bad := ParseFrame([]byte(`garbage`)).Err()
	if bad == nil {
		t.Fatal("unparseable frame should produce a StreamDataError")
	}
	if bad.Error() != "stream data error: unparseable frame" {
		t.Errorf("Error() = %q", bad.Error())
	}
	if string(bad.Raw) != "garbage" {
		t.Errorf("Raw = %q, want garbage", bad.Raw)
	}

	if ParseFrame([]byte(`{"header":{"tr_id":"PINGPONG"}}`)).Err() != nil {
		t.Error("keep-alive frames carry no error")
	}
}

func TestFrameKind_String(t *testing.T) {
	kinds := map[FrameKind]string{
		FrameKeepAlive:   "keepalive",
		FrameData:        "data",
		FrameError:       "error",
		FrameUnparseable: "unparseable",
	}
	for k, want := range kinds {
		if k.String() != want {
			t.Errorf("FrameKind(%d).String() = %q, want %q", k, k.String(), want)
		}
	}
}
