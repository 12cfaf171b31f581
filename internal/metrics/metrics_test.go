package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesMetrics(t *testing.T) {
	DatagramsTotal.WithLabelValues("fwtest", DirectionTX).Add(3)

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `fwip_datagrams_total{direction="tx",link="fwtest"} 3`)

	health, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServerStatusEndpoint(t *testing.T) {
	s := NewServer("127.0.0.1:0", "")
	s.HandleStatus("/links", func() any { return map[string]int{"fw0": 2} })
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/links")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var doc map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, 2, doc["fw0"])
}

func TestServerStopWithoutStart(t *testing.T) {
	s := NewServer(":0", "/m")
	assert.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, ":0", s.Addr())
}

func TestServerListenError(t *testing.T) {
	s := NewServer("256.0.0.1:1", "")
	assert.Error(t, s.Start(context.Background()))
}

func TestDeleteLink(t *testing.T) {
	DropsTotal.WithLabelValues("fwgone", "malformed").Inc()
	ChannelsOwned.WithLabelValues("fwgone").Set(2)
	DropsTotal.WithLabelValues("fwkeep", "malformed").Inc()

	DeleteLink("fwgone")

	assert.Equal(t, 0, testutil.CollectAndCount(ChannelsOwned, "fwip_channels_owned"))
	assert.Equal(t, float64(1), testutil.ToFloat64(DropsTotal.WithLabelValues("fwkeep", "malformed")))
}
