package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/canbridge/pkg/command"
)

func TestDispatchObserver(t *testing.T) {
	var o Dispatch
	before := testutil.ToFloat64(commandsTotal.WithLabelValues("FORWARD_CAN"))
	o.CommandReceived(command.ForwardCAN)
	o.CommandReceived(command.ForwardCAN)
	assert.Equal(t, before+2, testutil.ToFloat64(commandsTotal.WithLabelValues("FORWARD_CAN")))

	o.RouteAdded(9, true)
	assert.Equal(t, float64(1), testutil.ToFloat64(routesTotal.WithLabelValues("9", "true")))
	o.ResponseRouted(9, false)
	assert.Equal(t, float64(1), testutil.ToFloat64(responsesTotal.WithLabelValues("9", "false")))
}

func TestSessionGauge(t *testing.T) {
	done := SessionOpened("test")
	assert.Equal(t, float64(1), testutil.ToFloat64(sessionsActive.WithLabelValues("test")))
	done()
	done()
	assert.Equal(t, float64(0), testutil.ToFloat64(sessionsActive.WithLabelValues("test")))
}

func TestHandler(t *testing.T) {
	RecordFrame("STATUS")
	RecordReassemblyError("checksum mismatch")
	RecordCodecDrop("tcp", "crc")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `canbridge_can_frames_total{type="STATUS"}`)
	assert.Contains(t, string(body), `canbridge_codec_drops_total{endpoint="tcp",reason="crc"}`)
}
