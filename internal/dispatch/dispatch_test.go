package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/termsync/client/internal/errors"
	"github.com/termsync/client/internal/sdata"
	"github.com/termsync/client/internal/store"
	"github.com/termsync/client/internal/update"
)

func newTestDispatcher(srvURL string) (*Dispatcher, *store.Model) {
	model := store.NewModel()
	engine := update.NewEngine(model, nil)
	d := NewDispatcher(Config{BaseURL: srvURL, AuthKey: "key123"}, model, engine)
	return d, model
}

func writeEnvelope(w http.ResponseWriter, success bool, data any, errStr string) {
	raw, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(map[string]any{
		"success": success,
		"data":    json.RawMessage(raw),
		"error":   errStr,
	})
}

func TestRunCommand_AppliesUpdatePacket(t *testing.T) {
	var gotAuth, gotLabel string
	var gotBody FeCommandPacket
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/run-command" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("x-authkey")
		gotLabel = r.URL.Query().Get("cmd")
		json.NewDecoder(r.Body).Decode(&gotBody)
		writeEnvelope(w, true, sdata.ModelUpdate{
			&sdata.SessionData{SessionId: "s1", Name: "work", SessionIdx: 1},
		}, "")
	}))
	defer srv.Close()

	d, model := newTestDispatcher(srv.URL)
	err := d.RunCommand(context.Background(), &FeCommandPacket{
		MetaCmd:    "session",
		MetaSubCmd: "open",
		Args:       []string{"work"},
	})
	if err != nil {
		t.Fatalf("RunCommand error: %v", err)
	}
	if gotAuth != "key123" {
		t.Errorf("x-authkey = %q", gotAuth)
	}
	if gotLabel != "session:open" {
		t.Errorf("cmd label = %q", gotLabel)
	}
	if gotBody.Type != "fecmd" || gotBody.MetaCmd != "session" {
		t.Errorf("request body = %+v", gotBody)
	}
	model.Lock()
	defer model.Unlock()
	if model.GetSession("s1") == nil {
		t.Error("response update packet not applied to model")
	}
}

func TestRunCommand_RejectedAndFlashed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, false, nil, "no such session")
	}))
	defer srv.Close()

	d, model := newTestDispatcher(srv.URL)
	err := d.RunCommand(context.Background(), &FeCommandPacket{MetaCmd: "cd", Interactive: true})
	if !errors.IsCode(err, errors.CodeCommandRejected) {
		t.Fatalf("error = %v, want command.rejected", err)
	}
	msg := model.InfoMsg.Get()
	if msg == nil || msg.InfoError == "" {
		t.Error("interactive failure not flashed")
	}
}

func TestRunCommand_BackgroundFailureNotFlashed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, model := newTestDispatcher(srv.URL)
	err := d.RunCommand(context.Background(), &FeCommandPacket{MetaCmd: "bg"})
	if !errors.IsCode(err, errors.CodeCommandHTTPFailed) {
		t.Fatalf("error = %v, want command.http_failed", err)
	}
	if model.InfoMsg.Get() != nil {
		t.Error("background failure was flashed")
	}
}

func TestRunCommand_NullDataIsFine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, true, nil, "")
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL)
	if err := d.RunCommand(context.Background(), &FeCommandPacket{MetaCmd: "noop"}); err != nil {
		t.Errorf("null data treated as error: %v", err)
	}
}

func TestFetchScreenLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/get-screen-lines" {
			http.NotFound(w, r)
			return
		}
		screenId := r.URL.Query().Get("screenid")
		writeEnvelope(w, true, sdata.ScreenLinesData{
			ScreenId: screenId,
			Lines:    []*sdata.LineData{{ScreenId: screenId, LineId: "l1", Ts: 1}},
		}, "")
	}))
	defer srv.Close()

	d, model := newTestDispatcher(srv.URL)
	if err := d.FetchScreenLines(context.Background(), "scr1"); err != nil {
		t.Fatalf("FetchScreenLines error: %v", err)
	}
	model.Lock()
	defer model.Unlock()
	sl := model.GetScreenLines("scr1")
	if sl == nil || !sl.Loaded() || sl.NumLines() != 1 {
		t.Error("screen lines not loaded into model")
	}
}

func TestBootstrapClientData_RetriesUntilReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			writeEnvelope(w, true, nil, "") // not ready yet
			return
		}
		writeEnvelope(w, true, sdata.ClientData{ClientId: "c1", UserId: "u1"}, "")
	}))
	defer srv.Close()

	d, model := newTestDispatcher(srv.URL)
	cd, err := d.BootstrapClientData(context.Background())
	if err != nil {
		t.Fatalf("BootstrapClientData error: %v", err)
	}
	if cd.ClientId != "c1" {
		t.Errorf("client id = %q", cd.ClientId)
	}
	if calls.Load() < 2 {
		t.Errorf("calls = %d, want >= 2", calls.Load())
	}
	model.Lock()
	defer model.Unlock()
	if model.ClientData() == nil {
		t.Error("client data not stored in model")
	}
}

func TestBootstrapClientData_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, true, nil, "") // never ready
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, _ := newTestDispatcher(srv.URL)
	if _, err := d.BootstrapClientData(ctx); err == nil {
		t.Error("canceled bootstrap returned nil error")
	}
}

func TestTableBackOff(t *testing.T) {
	b := &tableBackOff{table: bootstrapDelays}
	want := []string{"1s", "3s", "10s", "30s", "30s", "30s"}
	for i, w := range want {
		if got := b.NextBackOff().String(); got != w {
			t.Errorf("NextBackOff #%d = %s, want %s", i, got, w)
		}
	}
	b.Reset()
	if got := b.NextBackOff().String(); got != "1s" {
		t.Errorf("after Reset = %s, want 1s", got)
	}
}
