package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
)

const (
	maxBodyBytes  = 10 << 20
	maxFormMemory = 32 << 20
)

// parseParams reads the posted parameters. Form and multipart bodies are
// used as-is; a JSON object is flattened to string values.
func parseParams(r *http.Request) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return decodeJSONParams(r.Body)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
	}
	if r.PostForm == nil {
		return url.Values{}, nil
	}
	return r.PostForm, nil
}

func decodeJSONParams(body io.ReadCloser) (url.Values, error) {
	defer body.Close()
	values := url.Values{}

	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return values, nil
		}
		return nil, fmt.Errorf("decode json body: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("json body must be an object")
	}
	for key, v := range obj {
		flat, err := flatten(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		values[key] = flat
	}
	return values, nil
}

// flatten renders one JSON value as form values. Arrays become repeated
// values and nested objects their compact JSON text.
func flatten(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return []string{"null"}, nil
	case bool:
		return []string{strconv.FormatBool(val)}, nil
	case json.Number:
		return []string{val.String()}, nil
	case string:
		return []string{val}, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			flat, err := flatten(item)
			if err != nil {
				return nil, err
			}
			out = append(out, flat...)
		}
		return out, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return []string{string(b)}, nil
	}
}
