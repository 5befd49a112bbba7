// Package server serves the Networking API and the Keystone token API over
// HTTP.
//
// Both surfaces share one request pipeline:
//
//  1. strip a .json suffix and the v2.0 prefix, split the path
//  2. route method and path through the dispatch tree
//  3. validate X-Auth-Token (Networking API only)
//  4. read the body of POST and PUT requests
//  5. call the handler and filter collection GETs by the query string
//  6. encode the result, or the error envelope, as JSON
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/jiayi-1994/ovn-provider/pkg/apierr"
	"github.com/jiayi-1994/ovn-provider/pkg/auth"
	"github.com/jiayi-1994/ovn-provider/pkg/logging"
	"github.com/jiayi-1994/ovn-provider/pkg/metrics"
)

const (
	// APIVersion is the path prefix of both surfaces.
	APIVersion = "v2.0"

	// AuthTokenHeader carries the token of a Networking API request.
	AuthTokenHeader = "X-Auth-Token"

	// MaxRequestBodySize bounds the body of a request.
	MaxRequestBodySize = 1 << 20

	// RequestTimeout bounds the handling of one request.
	RequestTimeout = 100 * time.Second
)

// Request is a routed API request.
type Request struct {
	Method string
	Path   []string
	Params Params
	Query  url.Values
	Body   []byte
}

// Handler serves one route. It returns the response object, or nil for an
// empty response.
type Handler func(ctx context.Context, req *Request) (interface{}, error)

// ErrorBody is the payload of the error envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Title   string `json:"title"`
}

// API is one REST surface.
type API struct {
	name             string
	routes           *Tree[Handler]
	auth             *auth.Authenticator
	filterExceptions []string
}

func newAPI(name string, authenticator *auth.Authenticator, filterExceptions []string) *API {
	return &API{
		name:             name,
		routes:           NewTree[Handler](),
		auth:             authenticator,
		filterExceptions: filterExceptions,
	}
}

// Handle registers h for method on pattern.
func (a *API) Handle(method, pattern string, h Handler) {
	a.routes.Register(method, pattern, h)
}

// requestPath returns the path elements of r below the API version.
func requestPath(r *http.Request) []string {
	path := splitPath(strings.TrimSuffix(r.URL.Path, ".json"))
	if len(path) > 0 && path[0] == APIVersion {
		path = path[1:]
	}
	return path
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	metrics.APIRequestsInFlight.WithLabelValues(a.name).Inc()
	defer metrics.APIRequestsInFlight.WithLabelValues(a.name).Dec()

	log := logging.LoggerForRequest(a.name, r.Method, r.URL.RequestURI())
	ctx, cancel := context.WithTimeout(logging.IntoContext(r.Context(), log), RequestTimeout)
	defer cancel()

	path := requestPath(r)
	req := &Request{Method: r.Method, Path: path, Query: r.URL.Query()}
	code, resp, err := a.serve(ctx, r, req)
	if err != nil {
		code = a.writeError(w, log, req, err)
	} else {
		code = writeJSON(w, code, resp)
	}

	resource := ""
	if len(path) > 0 {
		resource = path[0]
	}
	metrics.RecordAPIRequest(a.name, r.Method, resource, code, timer.ObserveDuration())
	log.V(1).Info("request served", "code", code, "duration", timer.ObserveDuration().String())
}

func (a *API) serve(ctx context.Context, r *http.Request, req *Request) (int, interface{}, error) {
	h, params, err := a.routes.Match(r.Method, req.Path)
	if err != nil {
		return 0, nil, err
	}
	req.Params = params

	if a.auth != nil {
		if err := a.auth.ValidateToken(ctx, r.Header.Get(AuthTokenHeader)); err != nil {
			return 0, nil, err
		}
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		if req.Body, err = io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize)); err != nil {
			return 0, nil, apierr.Wrap(apierr.BadRequest, err, "Unable to read request body: %v", err)
		}
	}

	resp, err := h(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	if r.Method == http.MethodGet && len(req.Path) == 1 && len(req.Query) > 0 {
		if resp, err = filterQueryResults(resp, req.Query, a.filterExceptions); err != nil {
			return 0, nil, err
		}
	}
	return defaultStatus(r.Method), resp, nil
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) int {
	if body == nil || code == http.StatusNoContent {
		w.WriteHeader(code)
		return code
	}
	data, err := json.Marshal(body)
	if err != nil {
		code = http.StatusInternalServerError
		data, _ = json.Marshal(map[string]ErrorBody{"error": {Message: err.Error(), Code: code, Title: apierr.Internal.String()}})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
	return code
}

// writeError serves err as the error envelope and logs it with the request.
func (a *API) writeError(w http.ResponseWriter, log *logging.Logger, req *Request, err error) int {
	kind := apierr.KindOf(err)
	code := kind.HTTPStatus()
	if errors.Is(err, context.DeadlineExceeded) {
		kind, code = apierr.Timeout, apierr.Timeout.HTTPStatus()
	}

	values := []interface{}{"code", code}
	if len(req.Body) > 0 {
		values = append(values, "body", logging.RedactPasswords(req.Body))
	}
	if code >= http.StatusInternalServerError {
		log.Error(err, "request failed", values...)
	} else {
		log.Info("request rejected", append(values, "error", apierr.Message(err))...)
	}

	return writeJSON(w, code, map[string]ErrorBody{"error": {
		Message: apierr.Message(err),
		Code:    code,
		Title:   kind.String(),
	}})
}

// filterQueryResults keeps the items of a collection response whose fields
// equal the query values. Keys in exceptions never filter. Responses that
// are not a single list are returned unchanged.
func filterQueryResults(resp interface{}, query url.Values, exceptions []string) (interface{}, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil || len(doc) != 1 {
		return resp, nil
	}
	key := lo.Keys(doc)[0]
	items, ok := doc[key].([]interface{})
	if !ok {
		return resp, nil
	}

	filters := lo.OmitByKeys(query, exceptions)
	doc[key] = lo.Filter(items, func(item interface{}, _ int) bool {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return false
		}
		for field, wanted := range filters {
			got, boolean := queryValue(obj[field]), isBool(obj[field])
			if !lo.ContainsBy(wanted, func(w string) bool { return w == got || (boolean && strings.EqualFold(w, got)) }) {
				return false
			}
		}
		return true
	})
	return doc, nil
}

func isBool(v interface{}) bool {
	_, ok := v.(bool)
	return ok
}

// queryValue renders a JSON value the way it is spelled in a query string.
func queryValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return lo.Ternary(t, "true", "false")
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}
