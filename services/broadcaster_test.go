package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/presence-engine/models"
	"chorus/presence-engine/utils"
)

type broadcastFixture struct {
	service     *PresenceService
	store       *MemoryPresenceStore
	registry    *ConnectionRegistry
	broadcaster *LocalBroadcaster
	tenantID    string
}

func newBroadcastFixture(t *testing.T) *broadcastFixture {
	t.Helper()

	service, store, _ := newTestService(t)
	registry := NewConnectionRegistry()
	broadcaster := NewLocalBroadcaster(registry, service, utils.NewLogger("test"))
	return &broadcastFixture{
		service:     service,
		store:       store,
		registry:    registry,
		broadcaster: broadcaster,
		tenantID:    testTenantID(t),
	}
}

// join seeds a user, runs the connect transition, and registers handles.
func (f *broadcastFixture) join(t *testing.T, handles ...*fakeHandle) string {
	t.Helper()

	userID := seedUser(t, f.store, f.tenantID)
	for _, handle := range handles {
		f.registry.Register(handle, userID, f.tenantID)
		_, err := f.service.Connect(context.Background(), userID)
		require.NoError(t, err)
	}
	return userID
}

func eventsNamed(events []Event, name string) []Event {
	var out []Event
	for _, e := range events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func TestBroadcastChangeExcludesOrigin(t *testing.T) {
	f := newBroadcastFixture(t)

	originTabX := newFakeHandle("origin-x")
	originTabY := newFakeHandle("origin-y")
	peerB := newFakeHandle("peer-b")
	peerC := newFakeHandle("peer-c")

	origin := f.join(t, originTabX, originTabY)
	f.join(t, peerB)
	f.join(t, peerC)

	f.broadcaster.BroadcastChange(context.Background(), origin, f.tenantID)

	// Every connection of every peer got exactly one push
	for _, peer := range []*fakeHandle{peerB, peerC} {
		changed := eventsNamed(peer.received(), EventPresenceChanged)
		require.Len(t, changed, 1)
		snapshot, ok := changed[0].Data.(models.Snapshot)
		require.True(t, ok)
		assert.Equal(t, origin, snapshot.UserID)
	}

	// The origin's own connections got nothing
	assert.Empty(t, eventsNamed(originTabX.received(), EventPresenceChanged))
	assert.Empty(t, eventsNamed(originTabY.received(), EventPresenceChanged))
}

func TestBroadcastChangeSwallowsDeadHandles(t *testing.T) {
	f := newBroadcastFixture(t)

	deadHandle := newFakeHandle("peer-dead")
	deadHandle.dead = true
	liveHandle := newFakeHandle("peer-live")

	origin := f.join(t, newFakeHandle("origin"))
	f.join(t, deadHandle)
	f.join(t, liveHandle)

	// Must not panic or skip the live peer
	f.broadcaster.BroadcastChange(context.Background(), origin, f.tenantID)

	assert.Empty(t, deadHandle.received())
	assert.Len(t, eventsNamed(liveHandle.received(), EventPresenceChanged), 1)
}

func TestBroadcastChangeUnknownUserIsSilent(t *testing.T) {
	f := newBroadcastFixture(t)

	peer := newFakeHandle("peer")
	f.join(t, peer)

	f.broadcaster.BroadcastChange(context.Background(), "ghost", f.tenantID)

	assert.Empty(t, eventsNamed(peer.received(), EventPresenceChanged))
}

func TestBulkSnapshotsCoversReachableUsers(t *testing.T) {
	f := newBroadcastFixture(t)

	userA := f.join(t, newFakeHandle("conn-a"))
	userB := f.join(t, newFakeHandle("conn-b"))

	// A user in the same tenant with no live connection is not in the bulk
	seedUser(t, f.store, f.tenantID)

	snapshots := f.broadcaster.BulkSnapshots(context.Background(), f.tenantID)

	ids := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		ids = append(ids, s.UserID)
	}
	assert.ElementsMatch(t, []string{userA, userB}, ids)
}

func TestBroadcastToUserHitsEveryHandleOfThatUserOnly(t *testing.T) {
	f := newBroadcastFixture(t)

	targetTabX := newFakeHandle("target-x")
	targetTabY := newFakeHandle("target-y")
	bystander := newFakeHandle("bystander")

	target := f.join(t, targetTabX, targetTabY)
	f.join(t, bystander)

	payload := map[string]string{"title": "Invoice approved"}
	f.broadcaster.BroadcastToUser(target, "notification:new", payload)

	for _, handle := range []*fakeHandle{targetTabX, targetTabY} {
		events := handle.received()
		require.Len(t, events, 1)
		assert.Equal(t, "notification:new", events[0].Event)
	}
	assert.Empty(t, bystander.received())
}
