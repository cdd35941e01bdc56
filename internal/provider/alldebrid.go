package provider

import (
	"FetchVault/config"
	"FetchVault/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// AllDebrid drives the AllDebrid v4 API. Swarm sources go through
// magnet/upload + magnet/status; direct URLs through link/unlock.
type AllDebrid struct {
	baseURL string
	apiKey  string
	agent   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewAllDebrid builds a client from AppConfig.
func NewAllDebrid() *AllDebrid {
	burst := config.AppConfig.ProviderBurst
	if burst <= 0 {
		burst = 1
	}
	perSec := config.AppConfig.ProviderRate
	var limiter *rate.Limiter
	if perSec <= 0 {
		limiter = rate.NewLimiter(rate.Inf, burst)
	} else {
		limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	return &AllDebrid{
		baseURL: strings.TrimRight(config.AppConfig.ProviderBaseURL, "/"),
		apiKey:  config.AppConfig.ProviderAPIKey,
		agent:   config.AppConfig.ProviderAgent,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
	}
}

type apiEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type magnetUploadData struct {
	Magnets []struct {
		ID    json.Number `json:"id"`
		Error *apiError   `json:"error"`
	} `json:"magnets"`
}

type magnetStatusData struct {
	Magnets struct {
		Status string    `json:"status"`
		Error  *apiError `json:"error"`
		Links  []struct {
			Link     string `json:"link"`
			Filename string `json:"filename"`
			Size     int64  `json:"size"`
		} `json:"links"`
	} `json:"magnets"`
}

type linkUnlockData struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

// Resolve submits the source to the provider.
func (a *AllDebrid) Resolve(ctx context.Context, sourceKind, source string) (Resolution, error) {
	switch sourceKind {
	case model.SourceSwarm:
		return a.resolveMagnet(ctx, source)
	case model.SourceDirectURL:
		return a.resolveLink(ctx, source)
	default:
		return Resolution{}, &Error{Message: "unsupported source kind " + sourceKind}
	}
}

func (a *AllDebrid) resolveMagnet(ctx context.Context, source string) (Resolution, error) {
	var data magnetUploadData
	form := url.Values{"magnets[]": {source}}
	if err := a.call(ctx, http.MethodPost, "/magnet/upload", form, &data); err != nil {
		return Resolution{}, err
	}
	if len(data.Magnets) == 0 {
		return Resolution{}, &Error{Message: "magnet upload returned no entries"}
	}
	m := data.Magnets[0]
	if m.Error != nil {
		return Resolution{}, &Error{Message: m.Error.Message}
	}
	return a.PollStatus(ctx, m.ID.String())
}

func (a *AllDebrid) resolveLink(ctx context.Context, source string) (Resolution, error) {
	var data linkUnlockData
	form := url.Values{"link": {source}}
	if err := a.call(ctx, http.MethodPost, "/link/unlock", form, &data); err != nil {
		return Resolution{}, err
	}
	name := data.Filename
	if name == "" {
		name = "download"
	}
	return Resolution{
		Status: StatusReady,
		Ref:    source,
		Files: []FileDescriptor{{
			Index:     0,
			Name:      name,
			SizeBytes: data.Filesize,
			Link:      data.Link,
		}},
	}, nil
}

// PollStatus re-checks a submitted magnet. Direct URLs never reach here
// because their Resolve call is already terminal.
func (a *AllDebrid) PollStatus(ctx context.Context, ref string) (Resolution, error) {
	var data magnetStatusData
	form := url.Values{"id": {ref}}
	if err := a.call(ctx, http.MethodGet, "/magnet/status", form, &data); err != nil {
		return Resolution{}, err
	}
	m := data.Magnets
	if m.Error != nil {
		return Resolution{Status: StatusError, Ref: ref, Message: m.Error.Message}, nil
	}
	if len(m.Links) == 0 {
		return Resolution{Status: StatusPending, Ref: ref, Message: m.Status}, nil
	}
	files := make([]FileDescriptor, 0, len(m.Links))
	for i, l := range m.Links {
		name := l.Filename
		if name == "" {
			name = fmt.Sprintf("file_%d", i)
		}
		files = append(files, FileDescriptor{
			Index:     i,
			Name:      name,
			SizeBytes: l.Size,
			Link:      l.Link,
		})
	}
	return Resolution{Status: StatusReady, Ref: ref, Files: files}, nil
}

// Unlock converts a provider file link into a direct download URL.
func (a *AllDebrid) Unlock(ctx context.Context, link string) (string, error) {
	var data linkUnlockData
	form := url.Values{"link": {link}}
	if err := a.call(ctx, http.MethodPost, "/link/unlock", form, &data); err != nil {
		return "", err
	}
	if !strings.HasPrefix(data.Link, "http") {
		return "", &Error{Message: "unlock returned no http link"}
	}
	return data.Link, nil
}

func (a *AllDebrid) call(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	form.Set("agent", a.agent)
	form.Set("apikey", a.apiKey)

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, a.baseURL+path+"?"+form.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, a.baseURL+path, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &Error{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return &Error{
			Message:   fmt.Sprintf("http %d from provider", resp.StatusCode),
			Transient: true,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Message: fmt.Sprintf("http %d from provider", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Message: err.Error(), Transient: true}
	}
	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &Error{Message: "bad provider response: " + err.Error(), Transient: true}
	}
	if envelope.Status != "success" {
		msg := "provider rejected the call"
		if envelope.Error != nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		return &Error{Message: msg}
	}
	return json.Unmarshal(envelope.Data, out)
}
