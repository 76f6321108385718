package stage

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"sort"
	"strings"

	"github.com/NikhilSetiya/fallback-engine/pkg/errors"
)

// Request is the normalized form of an execution request. Callers submit
// either a bare endpoint string or a structured object; both are parsed once,
// before the cascade, and every stage receives this form.
type Request struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Data     interface{}       `json:"data,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
	"HEAD":   true,
}

// ParseRequest normalizes the polymorphic request input. Accepted forms:
// a bare endpoint string, a map with endpoint/method/data/params keys, or an
// already parsed Request.
func ParseRequest(input interface{}) (*Request, error) {
	switch v := input.(type) {
	case nil:
		return nil, errors.NewValidationError("request is required")
	case string:
		return normalize(&Request{Endpoint: v})
	case *Request:
		if v == nil {
			return nil, errors.NewValidationError("request is required")
		}
		clone := *v
		return normalize(&clone)
	case Request:
		clone := v
		return normalize(&clone)
	case map[string]interface{}:
		return parseObject(v)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported request type %T", input))
	}
}

func parseObject(obj map[string]interface{}) (*Request, error) {
	req := &Request{}

	endpoint, ok := obj["endpoint"]
	if !ok {
		return nil, errors.NewValidationError("request object is missing endpoint")
	}
	endpointStr, ok := endpoint.(string)
	if !ok {
		return nil, errors.NewValidationError("endpoint must be a string")
	}
	req.Endpoint = endpointStr

	if method, ok := obj["method"]; ok && method != nil {
		methodStr, ok := method.(string)
		if !ok {
			return nil, errors.NewValidationError("method must be a string")
		}
		req.Method = methodStr
	}

	if data, ok := obj["data"]; ok {
		req.Data = data
	}

	if params, ok := obj["params"]; ok && params != nil {
		paramsMap, ok := params.(map[string]interface{})
		if !ok {
			return nil, errors.NewValidationError("params must be an object")
		}
		req.Params = flattenParams(paramsMap)
	}

	return normalize(req)
}

// flattenParams converts query parameter values to strings. Nested values
// are rejected upstream by URL semantics, so scalars only.
func flattenParams(params map[string]interface{}) map[string]string {
	flat := make(map[string]string, len(params))
	for key, value := range params {
		if value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			flat[key] = v
		case float64:
			// JSON numbers decode as float64; keep integers undecorated
			if v == float64(int64(v)) {
				flat[key] = fmt.Sprintf("%d", int64(v))
			} else {
				flat[key] = fmt.Sprintf("%g", v)
			}
		case bool:
			flat[key] = fmt.Sprintf("%t", v)
		default:
			flat[key] = fmt.Sprintf("%v", v)
		}
	}
	return flat
}

func normalize(req *Request) (*Request, error) {
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" {
		return nil, errors.NewValidationError("endpoint must not be empty")
	}
	if !strings.HasPrefix(req.Endpoint, "/") {
		req.Endpoint = "/" + req.Endpoint
	}

	if req.Method == "" {
		req.Method = "GET"
	}
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if !allowedMethods[req.Method] {
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported method %q", req.Method))
	}

	return req, nil
}

// QueryValues returns the request parameters as URL query values
func (r *Request) QueryValues() url.Values {
	values := url.Values{}
	for key, value := range r.Params {
		values.Set(key, value)
	}
	return values
}

// Key returns the canonical cache key for this request: method, endpoint,
// sorted params, and a short digest of the body when one is present.
func (r *Request) Key() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString(":")
	b.WriteString(r.Endpoint)

	if len(r.Params) > 0 {
		keys := make([]string, 0, len(r.Params))
		for key := range r.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		b.WriteString("?")
		for i, key := range keys {
			if i > 0 {
				b.WriteString("&")
			}
			b.WriteString(key)
			b.WriteString("=")
			b.WriteString(r.Params[key])
		}
	}

	if r.Data != nil {
		h := fnv.New32a()
		fmt.Fprintf(h, "%v", r.Data)
		b.WriteString(fmt.Sprintf("#%08x", h.Sum32()))
	}

	return b.String()
}
