package events

import (
	"strconv"
	"time"
)

// Bus groups one topic per event kind plus All, which mirrors every event
// as an Envelope.
type Bus struct {
	RoundOpened         Topic[RoundOpened]
	BettingClosed       Topic[BettingClosed]
	SpinStarted         Topic[SpinStarted]
	RoundCompleted      Topic[RoundCompleted]
	RoundCancelled      Topic[RoundCancelled]
	DistributionUpdated Topic[DistributionUpdated]
	TimerTick           Topic[TimerTick]
	All                 Topic[Envelope]

	now func() time.Time
}

func NewBus(now func() time.Time) *Bus {
	if now == nil {
		now = time.Now
	}
	return &Bus{now: now}
}

func publish[T any](b *Bus, t *Topic[T], typ, key string, v T) {
	t.Publish(v)
	b.All.Publish(Envelope{
		Type:      typ,
		Key:       key,
		Payload:   v,
		Timestamp: b.now().UTC().UnixMilli(),
	})
}

func (b *Bus) PublishRoundOpened(e RoundOpened) {
	publish(b, &b.RoundOpened, TypeRoundOpened, roundKey(TypeRoundOpened, e.RoundID), e)
}

func (b *Bus) PublishBettingClosed(e BettingClosed) {
	publish(b, &b.BettingClosed, TypeBettingClosed, roundKey(TypeBettingClosed, e.RoundID), e)
}

func (b *Bus) PublishSpinStarted(e SpinStarted) {
	publish(b, &b.SpinStarted, TypeSpinStarted, roundKey(TypeSpinStarted, e.RoundID), e)
}

func (b *Bus) PublishRoundCompleted(e RoundCompleted) {
	publish(b, &b.RoundCompleted, TypeRoundCompleted, roundKey(TypeRoundCompleted, e.Round.ID), e)
}

func (b *Bus) PublishRoundCancelled(e RoundCancelled) {
	publish(b, &b.RoundCancelled, TypeRoundCancelled, roundKey(TypeRoundCancelled, e.RoundID), e)
}

// PublishDistributionUpdated keys by total count, which only grows while a
// round is open.
func (b *Bus) PublishDistributionUpdated(e DistributionUpdated) {
	key := roundKey(TypeDistributionUpdated, e.Distribution.RoundID) + ":" + strconv.Itoa(e.Distribution.Total.Count)
	publish(b, &b.DistributionUpdated, TypeDistributionUpdated, key, e)
}

func (b *Bus) PublishTimerTick(e TimerTick) {
	publish(b, &b.TimerTick, TypeTimerTick, tickKey(e), e)
}
