package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"quotaguard/pkg/requestcontext"
)

type fixedResolver string

func (f fixedResolver) ClientIP(http.Header, string) string { return string(f) }

func TestClientMetadata(t *testing.T) {
	var gotIP, gotAgent string
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotAgent = requestcontext.UserAgent(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/doctors/1", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")

	ClientMetadata(fixedResolver("203.0.113.7"))(next).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", gotIP)
	assert.Equal(t, "Mozilla/5.0", gotAgent)
}
