package middleware_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
)

const (
	testHostAddr  = "192.168.1.1:12345"
	testUserAgent = "TestAgent/1.0"
)

func newTestAPI() (*chi.Mux, huma.API) {
	router := chi.NewMux()

	return router, humachi.New(router, huma.DefaultConfig("Test", "1.0.0"))
}

// mockHumaContext implements huma.Context for driving middleware directly.
type mockHumaContext struct {
	ctx        context.Context
	headers    map[string]string
	remoteAddr string
	written    []byte
	statusCode int
	method     string
	operation  *huma.Operation
}

func newMockHumaContext(op *huma.Operation) *mockHumaContext {
	return &mockHumaContext{
		ctx:        context.Background(),
		headers:    map[string]string{"User-Agent": testUserAgent},
		remoteAddr: testHostAddr,
		method:     "GET",
		operation:  op,
	}
}

func (m *mockHumaContext) Operation() *huma.Operation        { return m.operation }
func (m *mockHumaContext) Context() context.Context          { return m.ctx }
func (m *mockHumaContext) TLS() *tls.ConnectionState         { return nil }
func (m *mockHumaContext) Version() huma.ProtoVersion        { return huma.ProtoVersion{} }
func (m *mockHumaContext) Method() string                    { return m.method }
func (m *mockHumaContext) Host() string                      { return "api.example.com" }
func (m *mockHumaContext) RemoteAddr() string                { return m.remoteAddr }
func (m *mockHumaContext) URL() url.URL                      { return url.URL{} }
func (m *mockHumaContext) Param(_ string) string             { return "" }
func (m *mockHumaContext) Query(_ string) string             { return "" }
func (m *mockHumaContext) Header(name string) string         { return m.headers[name] }
func (m *mockHumaContext) EachHeader(_ func(string, string)) {}
func (m *mockHumaContext) BodyReader() io.Reader             { return nil }
func (m *mockHumaContext) GetMultipartForm() (*multipart.Form, error) {
	return nil, errors.ErrUnsupported
}
func (m *mockHumaContext) SetReadDeadline(_ time.Time) error { return nil }
func (m *mockHumaContext) SetStatus(code int)                { m.statusCode = code }
func (m *mockHumaContext) Status() int                       { return m.statusCode }
func (m *mockHumaContext) AppendHeader(_, _ string)          {}
func (m *mockHumaContext) SetHeader(_, _ string)             {}
func (m *mockHumaContext) BodyWriter() io.Writer             { return &mockBodyWriter{ctx: m} }

type mockBodyWriter struct {
	ctx *mockHumaContext
}

func (w *mockBodyWriter) Write(p []byte) (int, error) {
	w.ctx.written = append(w.ctx.written, p...)

	return len(p), nil
}
