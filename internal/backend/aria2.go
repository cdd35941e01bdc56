package backend

import (
	"FetchVault/config"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Aria2 talks JSON-RPC to an aria2 daemon.
type Aria2 struct {
	url    string
	token  string
	splits int
	client *http.Client
	seq    atomic.Int64
}

// NewAria2 builds a client from AppConfig.
func NewAria2() *Aria2 {
	token := ""
	if secret := config.AppConfig.Aria2RPCSecret; secret != "" {
		token = "token:" + secret
	}
	splits := config.AppConfig.Aria2Splits
	if splits <= 0 {
		splits = 4
	}
	return &Aria2{
		url:    config.AppConfig.Aria2RPCURL,
		token:  token,
		splits: splits,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type tellStatusResult struct {
	Status          string `json:"status"`
	CompletedLength string `json:"completedLength"`
	TotalLength     string `json:"totalLength"`
	ErrorMessage    string `json:"errorMessage"`
}

// Start enqueues a download and returns the aria2 gid.
func (a *Aria2) Start(ctx context.Context, url, dir, name string) (string, error) {
	options := map[string]string{
		"dir":                       dir,
		"out":                       name,
		"split":                     strconv.Itoa(a.splits),
		"max-connection-per-server": strconv.Itoa(a.splits),
		"min-split-size":            "1M",
		"continue":                  "true",
		"auto-file-renaming":        "false",
	}
	var gid string
	if err := a.call(ctx, "aria2.addUri", []interface{}{[]string{url}, options}, &gid); err != nil {
		return "", err
	}
	return gid, nil
}

// Progress reports the state of a transfer.
func (a *Aria2) Progress(ctx context.Context, gid string) (Progress, error) {
	keys := []string{"status", "completedLength", "totalLength", "errorMessage"}
	var st tellStatusResult
	if err := a.call(ctx, "aria2.tellStatus", []interface{}{gid, keys}, &st); err != nil {
		return Progress{}, err
	}
	received, _ := strconv.ParseInt(st.CompletedLength, 10, 64)
	total, _ := strconv.ParseInt(st.TotalLength, 10, 64)
	p := Progress{ReceivedBytes: received, TotalBytes: total, Message: st.ErrorMessage}
	switch st.Status {
	case "complete":
		p.State = StateComplete
	case "error", "removed":
		p.State = StateError
		if p.Message == "" {
			p.Message = "transfer " + st.Status
		}
	case "waiting", "paused":
		p.State = StateWaiting
	default:
		p.State = StateActive
	}
	return p, nil
}

// Cancel stops a transfer.
func (a *Aria2) Cancel(ctx context.Context, gid string) error {
	var removed string
	return a.call(ctx, "aria2.remove", []interface{}{gid}, &removed)
}

func (a *Aria2) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if a.token != "" {
		params = append([]interface{}{a.token}, params...)
	}
	body, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		ID:      a.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return &Error{Message: fmt.Sprintf("bad rpc response: %v", err)}
	}
	if rpcResp.Error != nil {
		return &Error{Message: rpcResp.Error.Message}
	}
	return json.Unmarshal(rpcResp.Result, out)
}
