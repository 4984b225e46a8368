package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/proxy/internal/domain"
)

func TestPublish_WithoutSubscriberIsANoop(t *testing.T) {
	r := New()
	require.NotPanics(t, func() {
		r.Publish(&domain.Exchange{})
	})
}

func TestPublish_DeliversToSubscriber(t *testing.T) {
	r := New()
	ch := r.Subscribe()

	exch := &domain.Exchange{}
	r.Publish(exch)

	select {
	case got := <-ch:
		require.Same(t, exch, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the published exchange")
	}
}

func TestPublish_DropsOldestWhenChannelFull(t *testing.T) {
	r := &Repository{capacity: 2}
	ch := r.Subscribe()

	first := &domain.Exchange{}
	second := &domain.Exchange{}
	third := &domain.Exchange{}

	r.Publish(first)
	r.Publish(second)
	r.Publish(third)

	require.Len(t, ch, 2)
	require.Same(t, second, <-ch)
	require.Same(t, third, <-ch)
}

func TestSubscribe_ReplacesPreviousSubscriber(t *testing.T) {
	r := New()
	old := r.Subscribe()
	fresh := r.Subscribe()

	r.Publish(&domain.Exchange{})

	select {
	case <-old:
		t.Fatal("stale subscriber channel should not receive new events")
	default:
	}

	select {
	case <-fresh:
	case <-time.After(time.Second):
		t.Fatal("current subscriber never received the published exchange")
	}
}
