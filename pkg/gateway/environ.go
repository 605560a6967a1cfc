package gateway

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/gofcgi/wsgigateway/pkg/fastcgi"
)

// Environ is the Go-native reshaping of the WSGI environ dict:
// a typed struct for the fixed wsgi.* keys plus the decoded Params as a
// string map, rather than a single untyped mapping.
type Environ struct {
	// Version is always (1, 0); kept as two fields since Go has no tuple.
	VersionMajor, VersionMinor int

	Input        []byte // the accumulated Stdin buffer
	Multithread  bool
	Multiprocess bool
	RunOnce      bool
	URLScheme    string

	// Errors accepts the application's diagnostic text output. The gateway
	// never reads it back; the default sink discards the bytes.
	Errors io.Writer

	// Params holds every Params name-value pair, decoded with the single
	// 8-bit-transparent encoding this codec commits to.
	Params map[string]string
}

// newEnviron builds an Environ from a decoded Params stream and the
// accumulated Stdin buffer. REQUEST_SCHEME is copied into URLScheme,
// defaulting to "http" when absent.
func newEnviron(params map[string]string, stdin []byte) *Environ {
	scheme, ok := params["REQUEST_SCHEME"]
	if !ok || scheme == "" {
		scheme = "http"
	}
	return &Environ{
		VersionMajor: 1,
		VersionMinor: 0,
		Input:        stdin,
		Multithread:  true,
		Multiprocess: false,
		RunOnce:      false,
		URLScheme:    scheme,
		Errors:       io.Discard,
		Params:       params,
	}
}

// Body returns the request body as a reader positioned at the start of the
// accumulated stdin buffer, for applications that prefer streaming reads
// over the raw Input slice.
func (e *Environ) Body() *bytes.Reader {
	return bytes.NewReader(e.Input)
}

// decodeParams turns a raw Params name-value stream into a string map.
// The decode layer has already collapsed duplicate names (later wins), so
// the map conversion is a straight copy.
func decodeParams(raw []byte) (map[string]string, error) {
	pairs, err := fastcgi.DecodePairs(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[string(p.Name)] = string(p.Value)
	}
	return out, nil
}

// String renders the environment for logging/debugging with keys in
// sorted order, so two runs against the same request produce the same
// line.
func (e *Environ) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "wsgi.url_scheme=%s wsgi.multithread=%v", e.URLScheme, e.Multithread)
	keys := maps.Keys(e.Params)
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%q", k, e.Params[k])
	}
	return buf.String()
}
