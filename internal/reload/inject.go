package reload

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/conneroisu/meread/internal/errors"
	"github.com/conneroisu/meread/internal/logging"
)

// Script is appended to every successful HTML response. It subscribes to
// the event stream and reloads the page when a token arrives.
var Script = []byte(`<script>
    new EventSource('` + EndpointPath + `').onmessage = (e) => {
        if (e.data === '` + string(ReloadToken) + `') window.location.reload()
    };
</script>`)

// DefaultMaxInjectBytes bounds how much of a response body the injector
// buffers before giving up on injection.
const DefaultMaxInjectBytes int64 = 32 << 20

// Injector is middleware that makes HTML pages reload-aware.
type Injector struct {
	maxBytes int64
	logger   logging.Logger
}

// NewInjector creates an Injector. A non-positive maxBytes selects
// DefaultMaxInjectBytes.
func NewInjector(maxBytes int64, logger logging.Logger) *Injector {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxInjectBytes
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Injector{maxBytes: maxBytes, logger: logger.WithComponent("reload")}
}

// Inject wraps next with the default Injector.
func Inject(next http.Handler) http.Handler {
	return NewInjector(0, nil).Middleware(next)
}

// Middleware returns next wrapped so that 200 text/html responses get
// Script appended. HEAD responses carry the Content-Length the matching GET
// would have. All other responses pass through untouched.
func (in *Injector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		iw := &injectingWriter{
			ResponseWriter: w,
			maxBytes:       in.maxBytes,
			head:           r.Method == http.MethodHead,
		}
		next.ServeHTTP(iw, r)

		if err := iw.finish(); err != nil {
			in.logger.Warn(r.Context(), err, "Response passed through without reload script",
				"path", r.URL.Path)
		}
	})
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
}

// injectingWriter decides whether a response is eligible once both the
// status and the content type are known. A 200 without a Content-Type waits
// for the first Write so the body can be sniffed. Eligible bodies are
// buffered until the handler returns; everything else is forwarded as
// written.
type injectingWriter struct {
	http.ResponseWriter
	maxBytes int64
	head     bool

	status      int
	wroteHeader bool
	undecided   bool
	buffering   bool
	buf         bytes.Buffer
	overflow    error
}

func (iw *injectingWriter) WriteHeader(code int) {
	if iw.wroteHeader {
		return
	}
	// 1xx responses are informational and may precede the real header.
	if code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols {
		iw.ResponseWriter.WriteHeader(code)
		return
	}
	iw.wroteHeader = true
	iw.status = code

	if code != http.StatusOK {
		iw.ResponseWriter.WriteHeader(code)
		return
	}
	if iw.Header().Get("Content-Type") == "" && !iw.head {
		iw.undecided = true
		return
	}
	iw.decide()
}

// decide commits a 200 response to injection or pass-through.
func (iw *injectingWriter) decide() {
	iw.undecided = false

	if !isHTML(iw.Header().Get("Content-Type")) {
		iw.ResponseWriter.WriteHeader(iw.status)
		return
	}

	if iw.head {
		if n, err := strconv.Atoi(iw.Header().Get("Content-Length")); err == nil {
			iw.Header().Set("Content-Length", strconv.Itoa(n+len(Script)))
		}
		iw.ResponseWriter.WriteHeader(iw.status)
		return
	}

	iw.buffering = true
}

func (iw *injectingWriter) Write(p []byte) (int, error) {
	if !iw.wroteHeader {
		iw.WriteHeader(http.StatusOK)
	}

	if iw.undecided {
		if len(p) == 0 {
			return 0, nil
		}
		h := iw.Header()
		if h.Get("Transfer-Encoding") == "" {
			h.Set("Content-Type", http.DetectContentType(p))
		}
		iw.decide()
	}

	if !iw.buffering {
		return iw.ResponseWriter.Write(p)
	}

	if int64(iw.buf.Len()+len(p)) > iw.maxBytes {
		iw.overflow = errors.NewBodyReadError("response body exceeds " + strconv.FormatInt(iw.maxBytes, 10) + " bytes")
		if err := iw.passThrough(); err != nil {
			return 0, err
		}
		return iw.ResponseWriter.Write(p)
	}

	return iw.buf.Write(p)
}

// passThrough abandons injection and emits the original header and the
// bytes buffered so far.
func (iw *injectingWriter) passThrough() error {
	iw.buffering = false
	iw.ResponseWriter.WriteHeader(iw.status)
	if iw.buf.Len() == 0 {
		return nil
	}
	_, err := iw.ResponseWriter.Write(iw.buf.Bytes())
	iw.buf.Reset()
	return err
}

func (iw *injectingWriter) finish() error {
	if iw.undecided {
		// 200 with no body and no type: nothing to sniff.
		iw.undecided = false
		iw.ResponseWriter.WriteHeader(iw.status)
		return nil
	}
	if !iw.buffering {
		return iw.overflow
	}
	iw.buffering = false

	body := make([]byte, 0, iw.buf.Len()+len(Script))
	body = append(body, iw.buf.Bytes()...)
	body = append(body, Script...)

	iw.Header().Set("Content-Length", strconv.Itoa(len(body)))
	iw.ResponseWriter.WriteHeader(iw.status)
	_, err := iw.ResponseWriter.Write(body)
	return err
}

// Flush implements http.Flusher. Buffered responses are only flushed once
// complete.
func (iw *injectingWriter) Flush() {
	if !iw.wroteHeader {
		iw.WriteHeader(http.StatusOK)
	}
	if iw.undecided {
		iw.decide()
	}
	if iw.buffering {
		return
	}
	if f, ok := iw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (iw *injectingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(iw.ResponseWriter).Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (iw *injectingWriter) Unwrap() http.ResponseWriter {
	return iw.ResponseWriter
}
