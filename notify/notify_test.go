package notify

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"walletcore/native/multisig"
)

func TestMetricsEmitterCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	emitter := NewMetricsEmitter(reg)

	evt := multisig.Event{
		Type:       multisig.EventQueueSigned,
		Attributes: map[string]string{"chainCode": "eth"},
	}
	emitter.Emit(evt)
	emitter.Emit(evt)

	count := testutil.ToFloat64(emitter.events.WithLabelValues(multisig.EventQueueSigned, "eth"))
	require.Equal(t, float64(2), count)
}

func TestListenerDropsWhenFull(t *testing.T) {
	listener := NewListener(1)
	evt := multisig.Event{Type: multisig.EventQueueCreated}

	listener.Emit(evt)
	listener.Emit(evt) // dropped, must not block

	select {
	case got := <-listener.Events():
		require.Equal(t, multisig.EventQueueCreated, got.Type)
	default:
		t.Fatal("expected one buffered event")
	}
	select {
	case <-listener.Events():
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestMultiEmitterFansOut(t *testing.T) {
	a := NewListener(1)
	b := NewListener(1)
	multi := multisig.MultiEmitter{a, b}
	multi.Emit(multisig.Event{Type: multisig.EventAccountProposed})

	require.Len(t, a.ch, 1)
	require.Len(t, b.ch, 1)
}
