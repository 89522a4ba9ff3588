package facade

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/elnormous/contenttype"

	apperrors "github.com/dropDatabas3/steamgate/internal/http/errors"
	"github.com/dropDatabas3/steamgate/internal/observability/logger"
	"github.com/dropDatabas3/steamgate/internal/session"
)

// DefaultMaxBody es el límite del body (1 MiB).
const DefaultMaxBody int64 = 1 << 20

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	formMediaType = contenttype.NewMediaType("application/x-www-form-urlencoded")
)

type options struct {
	maxBody int64
}

// Option ajusta Adapt.
type Option func(*options)

// WithMaxBody cambia el límite del body.
func WithMaxBody(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBody = n
		}
	}
}

// Adapt turns h into an http.HandlerFunc.
func Adapt(h Handler, opts ...Option) http.HandlerFunc {
	o := options{maxBody: DefaultMaxBody}
	for _, fn := range opts {
		fn(&o)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r, o.maxBody)
		if err != nil {
			apperrors.WriteError(w, err)
			return
		}
		run(h, w, r, body, nil)
	}
}

// Invoke runs h for r with err as the in-flight error. Used on callback paths where
// the body has no meaning.
func Invoke(h Handler, w http.ResponseWriter, r *http.Request, err error) {
	run(h, w, r, nil, err)
}

func run(h Handler, w http.ResponseWriter, r *http.Request, body json.RawMessage, inflight error) {
	req := &Request{
		Body:   body,
		Err:    inflight,
		UserID: session.SubjectFrom(r.Context()),
		raw:    r,
		w:      w,
	}
	res := &Response{w: w, r: r}

	h(req, res)

	if req.logoutErr == nil {
		return
	}
	if !res.written {
		apperrors.WriteError(w, apperrors.ErrSessionFailure.WithCause(req.logoutErr))
		return
	}
	logger.From(r.Context()).Error("logout failed after response was written",
		logger.Component("facade"), logger.Op("Logout"), logger.Err(req.logoutErr))
}

// readBody devuelve el body como JSON. Sin body, o con un media type que no es JSON
// ni formulario, devuelve nil.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) (json.RawMessage, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if r.Header.Get("Content-Type") == "" {
		return nil, nil
	}
	mt, err := contenttype.GetMediaType(r)
	if err != nil {
		return nil, apperrors.ErrUnsupportedMediaType.WithCause(err)
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	switch {
	case mt.Matches(jsonMediaType):
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyErr(err)
		}
		if len(b) == 0 {
			return nil, nil
		}
		if !json.Valid(b) {
			return nil, apperrors.ErrInvalidJSON
		}
		return json.RawMessage(b), nil

	case mt.Matches(formMediaType):
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyErr(err)
		}
		vals, err := url.ParseQuery(string(b))
		if err != nil {
			return nil, apperrors.ErrBadRequest.WithCause(err)
		}
		return formJSON(vals)
	}
	return nil, nil
}

func bodyErr(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.ErrBodyTooLarge
	}
	return apperrors.ErrBadRequest.WithCause(err)
}

// formJSON: una clave con un solo valor queda como string, con varios como array.
func formJSON(vals url.Values) (json.RawMessage, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	obj := make(map[string]any, len(vals))
	for k, v := range vals {
		if len(v) == 1 {
			obj[k] = v[0]
		} else {
			obj[k] = v
		}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
