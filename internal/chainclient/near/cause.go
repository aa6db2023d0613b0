package near

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// errorCause is the structured part of a NEAR RPC error, which
// jsonrpc.RPCError does not keep.
type errorCause struct {
	Name  string `json:"name"`
	Cause struct {
		Name string          `json:"name"`
		Info json.RawMessage `json:"info,omitempty"`
	} `json:"cause"`
}

type causeKey struct{}

// causeTransport decodes the error of a JSON-RPC response into the
// *errorCause found in the request context, leaving the body intact for the
// JSON-RPC client.
type causeTransport struct {
	base http.RoundTripper
}

func (t causeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	dst, ok := req.Context().Value(causeKey{}).(*errorCause)
	if !ok || resp.Body == nil {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var envelope struct {
		Error *errorCause `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		*dst = *envelope.Error
	}
	return resp, nil
}
