package idempotency

import (
	"bytes"
	"net/http"
	"sort"
)

// HeaderPair is one header line. Value is kept as raw bytes, it is not assumed to be UTF-8.
type HeaderPair struct {
	Name  string
	Value []byte
}

// Response is a captured HTTP response.
type Response struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// Render writes r to w: every header pair in stored order (duplicates kept),
// then the status line, then the body.
func (r *Response) Render(w http.ResponseWriter) {
	h := w.Header()
	for _, p := range r.Headers {
		// Direct map access keeps the stored name and appends duplicates in order.
		h[p.Name] = append(h[p.Name], string(p.Value))
	}
	w.WriteHeader(r.StatusCode)
	w.Write(r.Body)
}

// Recorder is an http.ResponseWriter that buffers everything a handler writes
// so it can be persisted before anything reaches the client.
type Recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

// NewRecorder returns an empty Recorder. Status defaults to 200 like net/http.
func NewRecorder() *Recorder {
	return &Recorder{header: make(http.Header), status: http.StatusOK}
}

func (rec *Recorder) Header() http.Header { return rec.header }

func (rec *Recorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.wroteHeader = true
	rec.status = code
}

func (rec *Recorder) Write(p []byte) (int, error) {
	rec.WriteHeader(http.StatusOK)
	return rec.body.Write(p)
}

// Response snapshots what was recorded. Header names are emitted in sorted
// order so the stored form is deterministic; values keep their per-name order.
func (rec *Recorder) Response() *Response {
	names := make([]string, 0, len(rec.header))
	for name := range rec.header {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := make([]HeaderPair, 0, len(names))
	for _, name := range names {
		for _, v := range rec.header[name] {
			headers = append(headers, HeaderPair{Name: name, Value: []byte(v)})
		}
	}

	return &Response{
		StatusCode: rec.status,
		Headers:    headers,
		Body:       bytes.Clone(rec.body.Bytes()),
	}
}
