package sdata

import (
	"encoding/json"
	"sort"
	"testing"
)

func TestPadTs(t *testing.T) {
	tests := []struct {
		ts   int64
		want string
	}{
		{0, "0000000000000"},
		{5, "0000000000005"},
		{1700000000000, "1700000000000"},
		{-3, "0000000000000"},
	}
	for _, tc := range tests {
		if got := PadTs(tc.ts); got != tc.want {
			t.Errorf("PadTs(%d) = %q, want %q", tc.ts, got, tc.want)
		}
	}
}

func TestLineSortKey_Ordering(t *testing.T) {
	// Numeric timestamp order must survive lexicographic comparison, and
	// equal timestamps must break ties by line id.
	lines := []*LineData{
		{LineId: "b", Ts: 5},
		{LineId: "a", Ts: 5},
		{LineId: "c", Ts: 3},
		{LineId: "d", Ts: 100},
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].SortKey() < lines[j].SortKey() })
	want := []string{"c", "a", "b", "d"}
	for i, l := range lines {
		if l.LineId != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, l.LineId, want[i])
		}
	}
}

func TestCmdData_IsRunning(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{CmdStatusRunning, true},
		{CmdStatusDetached, true},
		{CmdStatusDone, false},
		{CmdStatusError, false},
		{CmdStatusHangup, false},
	}
	for _, tc := range tests {
		c := &CmdData{Status: tc.status}
		if got := c.IsRunning(); got != tc.want {
			t.Errorf("IsRunning(%s) = %t, want %t", tc.status, got, tc.want)
		}
	}
}

func TestModelUpdate_UnmarshalOrderAndTypes(t *testing.T) {
	packet := `[
		{"screen":{"screenid":"s1","sessionid":"sess1","name":"main"}},
		{"line":{"line":{"screenid":"s1","lineid":"l1","ts":10},"cmd":{"screenid":"s1","lineid":"l1","status":"running"}}},
		{"interactive":true},
		{"activesessionid":"sess1"}
	]`
	var mu ModelUpdate
	if err := json.Unmarshal([]byte(packet), &mu); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(mu) != 4 {
		t.Fatalf("got %d items, want 4", len(mu))
	}
	if _, ok := mu[0].(*ScreenData); !ok {
		t.Errorf("item 0 = %T, want *ScreenData", mu[0])
	}
	lu, ok := mu[1].(*LineUpdate)
	if !ok {
		t.Fatalf("item 1 = %T, want *LineUpdate", mu[1])
	}
	if lu.Line.LineId != "l1" || lu.Cmd == nil || lu.Cmd.Status != CmdStatusRunning {
		t.Errorf("line update decoded wrong: %+v", lu)
	}
	iv, ok := mu[2].(*InteractiveUpdate)
	if !ok || !bool(*iv) {
		t.Errorf("item 2 = %T (%v), want interactive true", mu[2], mu[2])
	}
	as, ok := mu[3].(*ActiveSessionIdUpdate)
	if !ok || string(*as) != "sess1" {
		t.Errorf("item 3 = %T (%v), want activesessionid sess1", mu[3], mu[3])
	}
}

func TestModelUpdate_UnknownKeysSkipped(t *testing.T) {
	packet := `[{"somefuturething":{"x":1}},{"activesessionid":"sess1"}]`
	var mu ModelUpdate
	if err := json.Unmarshal([]byte(packet), &mu); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(mu) != 1 {
		t.Fatalf("got %d items, want 1 (unknown key should be skipped)", len(mu))
	}
}

func TestModelUpdate_RoundTrip(t *testing.T) {
	orig := ModelUpdate{
		&ScreenData{ScreenId: "s1", SessionId: "sess1"},
		&CmdData{ScreenId: "s1", LineId: "l1", Status: CmdStatusDone},
	}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var back ModelUpdate
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("round trip lost items: %d", len(back))
	}
	if cd, ok := back[1].(*CmdData); !ok || cd.Status != CmdStatusDone {
		t.Errorf("round trip item 1 = %#v", back[1])
	}
}

func TestGetUpdateItems(t *testing.T) {
	mu := ModelUpdate{
		&ScreenData{ScreenId: "s1"},
		&SessionData{SessionId: "a"},
		&ScreenData{ScreenId: "s2"},
	}
	screens := GetUpdateItems[*ScreenData](mu)
	if len(screens) != 2 || screens[0].ScreenId != "s1" || screens[1].ScreenId != "s2" {
		t.Errorf("GetUpdateItems = %+v", screens)
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string // "update", "pty", "control"
	}{
		{"model update", `[{"activesessionid":"x"}]`, "update"},
		{"pty data", `{"screenid":"s1","lineid":"l1","ptypos":0,"ptydata64":"aGk=","ptydatalen":2}`, "pty"},
		{"hello", `{"type":"hello"}`, "control"},
		{"ping", `{"type":"ping","stime":123}`, "control"},
		{"leading whitespace", "  \n[{\"activesessionid\":\"x\"}]", "update"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := ParseFrame([]byte(tc.data))
			if err != nil {
				t.Fatalf("ParseFrame error: %v", err)
			}
			var got string
			switch frame.(type) {
			case ModelUpdate:
				got = "update"
			case *PtyDataUpdate:
				got = "pty"
			case *ControlFrame:
				got = "control"
			}
			if got != tc.want {
				t.Errorf("classified as %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseFrame_Errors(t *testing.T) {
	for _, data := range []string{"", "   ", "{}", "not json"} {
		if _, err := ParseFrame([]byte(data)); err == nil {
			t.Errorf("ParseFrame(%q) = nil error, want error", data)
		}
	}
}

func TestParseFrame_EmptyPtyData(t *testing.T) {
	// A PTY frame with an empty chunk is still a PTY frame; the probe keys
	// on field presence, not value.
	frame, err := ParseFrame([]byte(`{"screenid":"s1","lineid":"l1","ptypos":7,"ptydata64":"","ptydatalen":0}`))
	if err != nil {
		t.Fatalf("ParseFrame error: %v", err)
	}
	pdu, ok := frame.(*PtyDataUpdate)
	if !ok {
		t.Fatalf("classified as %T, want *PtyDataUpdate", frame)
	}
	if pdu.PtyPos != 7 {
		t.Errorf("PtyPos = %d, want 7", pdu.PtyPos)
	}
}

func TestRemotePtrMapKey(t *testing.T) {
	r := RemotePtr{OwnerId: "o", RemoteId: "r", Name: "n"}
	if got := r.MapKey(); got != "o:r:n" {
		t.Errorf("MapKey = %q", got)
	}
	if (RemotePtr{}).IsZero() != true {
		t.Error("zero RemotePtr not reported zero")
	}
}
