// Package facade is the surface application handlers and the sign-in flow see
// instead of net/http types.
//
// A Handler receives a *Request and a *Response. Building them parses the body and
// reads the session but writes nothing; only JSON, Redirect, Login and Logout have
// effects, and only when the handler calls them.
package facade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dropDatabas3/steamgate/internal/observability/logger"
	"github.com/dropDatabas3/steamgate/internal/session"
)

// LoginPath es la ruta que inicia el login con Steam.
const LoginPath = "/__login__"

var (
	// ErrAlreadyWritten: la respuesta ya fue emitida por este handler.
	ErrAlreadyWritten = errors.New("facade: response already written")
	// ErrNoBody: Bind sobre un request sin body.
	ErrNoBody = errors.New("facade: request has no body")
)

// Handler is an application route handler.
type Handler func(req *Request, res *Response)

// Request is the handler's view of the inbound request.
type Request struct {
	// Body es el payload parseado como JSON; nil si no hubo body.
	Body json.RawMessage
	// Err se setea solo cuando el handler corre en un camino de error.
	Err error
	// UserID es el SteamID64 ligado a la sesión; "" si es anónimo.
	UserID string

	raw       *http.Request
	w         http.ResponseWriter
	logoutErr error
}

// Context returns the request context.
func (r *Request) Context() context.Context { return r.raw.Context() }

// HTTP exposes the underlying request for read-only needs (headers, query).
func (r *Request) HTTP() *http.Request { return r.raw }

// Authenticated reports whether a subject is bound to the session.
func (r *Request) Authenticated() bool { return r.UserID != "" }

// Bind decodes the body into v.
func (r *Request) Bind(v any) error {
	if len(r.Body) == 0 {
		return ErrNoBody
	}
	return json.Unmarshal(r.Body, v)
}

// Logout clears the session's subject. Calling it on an anonymous session is not an
// error. Session store errors are returned and also reported by the adapter once the
// handler returns.
func (r *Request) Logout() error {
	if err := session.Logout(r.w, r.raw); err != nil {
		r.logoutErr = err
		return err
	}
	r.UserID = ""
	return nil
}

// Response is the handler's view of the outbound response.
type Response struct {
	w       http.ResponseWriter
	r       *http.Request
	written bool
	status  int
}

// Written reports whether JSON, Redirect or Login already ran.
func (r *Response) Written() bool { return r.written }

// Status devuelve el status emitido, 0 si todavía no se escribió nada.
func (r *Response) Status() int { return r.status }

func (r *Response) claim(status int) error {
	if r.written {
		return ErrAlreadyWritten
	}
	r.written = true
	r.status = status
	return nil
}

// JSON writes data with the given status. Only the first call has effect.
func (r *Response) JSON(status int, data any) error {
	if err := r.claim(status); err != nil {
		return err
	}
	b, err := json.Marshal(data)
	if err != nil {
		r.written = false
		r.status = 0
		return err
	}
	r.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	r.w.WriteHeader(status)
	_, err = r.w.Write(append(b, '\n'))
	return err
}

// Redirect issues a 302 to url.
func (r *Response) Redirect(url string) {
	if err := r.claim(http.StatusFound); err != nil {
		logger.From(r.r.Context()).Warn("redirect after response was written",
			logger.Component("facade"), logger.String("location", url))
		return
	}
	http.Redirect(r.w, r.r, url, http.StatusFound)
}

// Login sends the visitor to the Steam sign-in route.
func (r *Response) Login() {
	r.Redirect(LoginPath)
}
