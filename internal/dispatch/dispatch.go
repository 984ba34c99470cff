// Package dispatch implements the request/response half of the host
// protocol: command execution, screen-lines fetch and the client-data
// bootstrap poll. Responses that carry update packets are fed straight
// into the merge engine.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/termsync/client/internal/errors"
	"github.com/termsync/client/internal/sdata"
	"github.com/termsync/client/internal/store"
	"github.com/termsync/client/internal/update"
)

const requestTimeout = 30 * time.Second

// UIContext tells the host where a command was issued from, so relative
// commands (run, comment, cd) resolve against the right screen and remote.
type UIContext struct {
	SessionId string          `json:"sessionid"`
	ScreenId  string          `json:"screenid"`
	Remote    sdata.RemotePtr `json:"remote,omitempty"`
	TermOpts  *sdata.TermOpts `json:"termopts,omitempty"`
	Build     string          `json:"build,omitempty"`
}

// FeCommandPacket is the run-command request body.
type FeCommandPacket struct {
	Type        string            `json:"type"`
	MetaCmd     string            `json:"metacmd"`
	MetaSubCmd  string            `json:"metasubcmd,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Kwargs      map[string]string `json:"kwargs,omitempty"`
	UIContext   *UIContext        `json:"uicontext,omitempty"`
	Interactive bool              `json:"interactive"`
	RawStr      string            `json:"rawstr,omitempty"`
}

// apiResponse is the envelope every host endpoint returns.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Config holds the dispatcher's connection parameters.
type Config struct {
	// BaseURL is the host HTTP origin, e.g. "http://127.0.0.1:1619".
	BaseURL string

	// AuthKey is sent as the x-authkey header on every request.
	AuthKey string
}

// Dispatcher issues HTTP requests to the host and routes resulting update
// packets into the merge engine.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	model  *store.Model
	engine *update.Engine
}

// NewDispatcher creates a dispatcher bound to a model and engine.
func NewDispatcher(cfg Config, model *store.Model, engine *update.Engine) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		model:  model,
		engine: engine,
	}
}

// RunCommand executes a front-end command on the host. The response's
// update packet (if any) is applied to the model before returning. Failures
// are returned as coded errors; interactive failures are additionally
// flashed as a transient info message.
func (d *Dispatcher) RunCommand(ctx context.Context, pk *FeCommandPacket) error {
	if pk.Type == "" {
		pk.Type = "fecmd"
	}
	label := pk.MetaCmd
	if pk.MetaSubCmd != "" {
		label += ":" + pk.MetaSubCmd
	}
	u := d.cfg.BaseURL + "/api/run-command?cmd=" + url.QueryEscape(label)
	data, err := d.post(ctx, u, pk)
	if err != nil {
		d.flashError(pk.Interactive, err)
		return err
	}
	if len(data) > 0 && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var mu sdata.ModelUpdate
		if err := json.Unmarshal(data, &mu); err != nil {
			err = errors.Wrap(errors.CodeCommandBadResponse, "parsing update packet", err)
			d.flashError(pk.Interactive, err)
			return err
		}
		d.engine.ApplyUpdate(mu)
	}
	return nil
}

// FetchScreenLines fetches the full line snapshot for a screen and loads it
// into the model. Used on cold start and whenever the active screen changes.
func (d *Dispatcher) FetchScreenLines(ctx context.Context, screenId string) error {
	u := d.cfg.BaseURL + "/api/get-screen-lines?screenid=" + url.QueryEscape(screenId)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(errors.CodeCommandHTTPFailed, "building request", err)
	}
	data, err := d.do(req)
	if err != nil {
		return err
	}
	var sld sdata.ScreenLinesData
	if err := json.Unmarshal(data, &sld); err != nil {
		return errors.Wrap(errors.CodeCommandBadResponse, "parsing screen lines", err)
	}
	d.engine.ApplyUpdate(sdata.ModelUpdate{&sld})
	return nil
}

// bootstrapDelays paces the client-data poll: quick retries at first, then
// settling into a slow steady poll until the host responds.
var bootstrapDelays = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// tableBackOff walks a fixed delay table and then repeats the final entry.
type tableBackOff struct {
	table []time.Duration
	idx   int
}

func (b *tableBackOff) NextBackOff() time.Duration {
	d := b.table[b.idx]
	if b.idx < len(b.table)-1 {
		b.idx++
	}
	return d
}

func (b *tableBackOff) Reset() { b.idx = 0 }

// BootstrapClientData polls get-client-data until non-null client data is
// obtained, then stores it in the model. This is the cold-start gate: no
// session or screen state means anything before it completes.
func (d *Dispatcher) BootstrapClientData(ctx context.Context) (*sdata.ClientData, error) {
	var cd *sdata.ClientData
	op := func() error {
		got, err := d.fetchClientData(ctx)
		if err != nil {
			log.Printf("dispatch: get-client-data not ready: %v", err)
			return err
		}
		cd = got
		return nil
	}
	bo := backoff.WithContext(&tableBackOff{table: bootstrapDelays}, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	d.model.Lock()
	d.model.SetClientData(cd)
	d.model.Unlock()
	return cd, nil
}

func (d *Dispatcher) fetchClientData(ctx context.Context) (*sdata.ClientData, error) {
	data, err := d.post(ctx, d.cfg.BaseURL+"/api/get-client-data", nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, errors.New(errors.CodeCommandBadResponse, "client data not ready")
	}
	var cd sdata.ClientData
	if err := json.Unmarshal(data, &cd); err != nil {
		return nil, errors.Wrap(errors.CodeCommandBadResponse, "parsing client data", err)
	}
	return &cd, nil
}

func (d *Dispatcher) post(ctx context.Context, url string, body any) (json.RawMessage, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, errors.Wrap(errors.CodeCommandHTTPFailed, "encoding request body", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, errors.Wrap(errors.CodeCommandHTTPFailed, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req)
}

// do executes a request and unwraps the {success, data, error} envelope.
func (d *Dispatcher) do(req *http.Request) (json.RawMessage, error) {
	req.Header.Set("x-authkey", d.cfg.AuthKey)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.CodeCommandHTTPFailed, "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.CodeCommandHTTPFailed, "reading response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.CodeCommandHTTPFailed,
			fmt.Sprintf("%s returned status %d", req.URL.Path, resp.StatusCode))
	}
	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(errors.CodeCommandBadResponse, "parsing response envelope", err)
	}
	if !env.Success {
		return nil, errors.CommandRejected(env.Error)
	}
	return env.Data, nil
}

// flashError surfaces a command failure as a transient info message, but
// only for interactive commands. Background requests fail quietly to their
// callers.
func (d *Dispatcher) flashError(interactive bool, err error) {
	if !interactive {
		return
	}
	d.model.InfoMsg.Set(&sdata.InfoMsg{
		InfoTitle:     "error",
		InfoError:     errors.GetMessage(err),
		InfoErrorCode: errors.GetCode(err),
	})
}
