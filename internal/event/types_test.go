package event

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewHeader_AssignsUniqueEventID(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CST", 8*3600))
	a := NewHeader("r-1", "X1", "BTC-USDT", 1, ts)
	b := NewHeader("r-1", "X1", "BTC-USDT", 1, ts)

	assert.NotEqual(t, uuid.Nil, a.EventID)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, time.UTC, a.Timestamp.Location())
	assert.True(t, a.Timestamp.Equal(ts))
}

func TestOrderEditedEvent_Replaced(t *testing.T) {
	ev := OrderEditedEvent{Header: Header{OrderID: "X1"}}
	assert.False(t, ev.Replaced())

	ev.NewOrderID = "X1"
	assert.False(t, ev.Replaced())

	ev.NewOrderID = "X2"
	assert.True(t, ev.Replaced())
}

func TestEventKinds(t *testing.T) {
	var edited Event = OrderEditedEvent{Header: Header{OrderID: "X1", Seq: 7}}
	var failed Event = OrderEditFailedEvent{Header: Header{OrderID: "X1", Seq: 8}}

	assert.Equal(t, KindOrderEdited, edited.Kind())
	assert.Equal(t, KindOrderEditFailed, failed.Kind())
	assert.Equal(t, "X1", failed.Order())
	assert.Equal(t, uint64(8), failed.Sequence())
}

func TestOrderParams(t *testing.T) {
	p := NewOrderParams(10.5, 5)
	assert.True(t, p.Valid())
	assert.True(t, p.Equal(NewOrderParams(10.50, 5.0)))
	assert.Equal(t, "52.5", p.Notional().String())
	assert.False(t, NewOrderParams(0, 5).Valid())
}

func TestFailureReason_String(t *testing.T) {
	assert.Equal(t, "INSUFFICIENT_MARGIN", FailureReason{Code: FailureInsufficientMargin}.String())
	assert.Equal(t, "REJECTED: price out of band", FailureReason{Code: FailureRejected, Detail: "price out of band"}.String())
}
