package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout sets a deadline on each request context and answers 504
// when the handler has not finished by then. Store calls observe the
// cancelled context, so a timed out bill or stock adjustment rolls back on
// transactional backends.
//
// The handler runs on its own echo context whose response is buffered. The
// buffer is copied to the client only when the handler finishes in time, so
// a handler still running after the 504 cannot write to the connection.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			buf := newBufferedWriter(c.Response().Header())
			hc := c.Echo().NewContext(c.Request().WithContext(ctx), buf)
			hc.SetPath(c.Path())
			hc.SetParamNames(c.ParamNames()...)
			hc.SetParamValues(c.ParamValues()...)
			if rid, ok := c.Get("request_id").(string); ok {
				hc.Set("request_id", rid)
			}

			done := make(chan error, 1)
			panicked := make(chan interface{}, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						panicked <- r
					}
				}()
				done <- next(hc)
			}()

			select {
			case err := <-done:
				c.SetRequest(hc.Request())
				buf.flushTo(c.Response())
				return err
			case r := <-panicked:
				buf.discard()
				panic(r)
			case <-ctx.Done():
				buf.discard()
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return echo.NewHTTPError(http.StatusGatewayTimeout, "request exceeded the allowed time limit")
				}
				return ctx.Err()
			}
		}
	}
}

// bufferedWriter holds a handler's response until it is flushed or
// discarded. Writes after discard are dropped.
type bufferedWriter struct {
	mu        sync.Mutex
	header    http.Header
	code      int
	body      bytes.Buffer
	discarded bool
}

func newBufferedWriter(initial http.Header) *bufferedWriter {
	return &bufferedWriter{header: initial.Clone()}
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.code == 0 && !w.discarded {
		w.code = code
	}
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.discarded {
		return 0, http.ErrHandlerTimeout
	}
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.body.Write(p)
}

func (w *bufferedWriter) discard() {
	w.mu.Lock()
	w.discarded = true
	w.body.Reset()
	w.mu.Unlock()
}

// flushTo copies the buffered response to res. Nothing is written when the
// handler produced no response, so the error handler can still answer.
func (w *bufferedWriter) flushTo(res *echo.Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	dst := res.Header()
	for k, v := range w.header {
		dst[k] = v
	}
	if w.code == 0 {
		return
	}
	res.WriteHeader(w.code)
	res.Write(w.body.Bytes())
}
