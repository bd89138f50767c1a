package mgmtapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bacterium-io/mstpstack/pkg/binding"
	"github.com/bacterium-io/mstpstack/pkg/datalink"
	"github.com/bacterium-io/mstpstack/pkg/tsm"
)

type recordingLink struct{}

func (*recordingLink) Send(peer datalink.Address, npduHeader, apdu []byte) (int, error) {
	return len(npduHeader) + len(apdu), nil
}

func (*recordingLink) Poll(ctx context.Context) (datalink.Address, []byte, bool) {
	<-ctx.Done()
	return datalink.Address{}, nil, false
}

func newCtx() context.Context { return context.Background() }

func TestHealthz(t *testing.T) {
	r := NewRouter(nil, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBindingsSurfaceReturns503WhenNotWired(t *testing.T) {
	r := NewRouter(nil, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bindings/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListBindingsReturnsSnapshot(t *testing.T) {
	c := binding.New(binding.Config{})
	c.Bind(260001, datalink.Address{Net: 1, MAC: []byte{1}}, 480, 60)

	r := NewRouter(c, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bindings/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var entries []binding.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.EqualValues(t, 260001, entries[0].DeviceInstance)
}

func TestGetBindingNotFound(t *testing.T) {
	c := binding.New(binding.Config{})
	r := NewRouter(c, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bindings/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBindingRejectsNonNumericInstance(t *testing.T) {
	c := binding.New(binding.Config{})
	r := NewRouter(c, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bindings/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTSMSummaryReportsActiveCount(t *testing.T) {
	link := &recordingLink{}
	machine := tsm.New(link, tsm.Config{})
	_, err := machine.Begin(newCtx(), datalink.Address{Net: 1, MAC: []byte{1}}, []byte{0x01, 0x08}, []byte{0x10, 0x08})
	require.NoError(t, err)

	r := NewRouter(nil, machine)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tsm/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body["active_transactions"])
}

func TestGetTransactionNotFoundForFreeSlot(t *testing.T) {
	machine := tsm.New(&recordingLink{}, tsm.Config{})
	r := NewRouter(nil, machine)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tsm/3", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
