package runtime

import (
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"mucbot/domain"
	"mucbot/domain/event"
)

const (
	testRoom = domain.JID("ops@conference.example.com")
	testNick = "mucbot"
)

func newRoomForTest(transport *fakeTransport) *RoomManager {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewRoomManager(log, transport, testRoom, testNick, "bot@example.com", 4096, true)
}

func memberRoles(t *testing.T, members string) *domain.RoleSets {
	t.Helper()
	roles, warnings := domain.LoadRoleSets(domain.RolesSpec{RoomUsers: members})
	require.Empty(t, warnings)
	return roles
}

func selfPresence() event.RoomPresence {
	return event.RoomPresence{Room: testRoom, Nick: testNick, JID: "bot@example.com", Online: true}
}

func TestRoom_SelfOnline_Configures_MembersOnly_And_Invites_Absent(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	room := newRoomForTest(transport)
	roles := memberRoles(t, "alice@example.com,bob@example.com")

	req.NoError(room.Join())
	req.Equal([]string{string(testRoom)}, transport.joins)

	// When the bot's own presence confirms the join
	room.HandlePresence(selfPresence(), roles)

	// Then the room is locked down to members
	req.Equal(RoomReady, room.Phase())
	req.Len(transport.configPushes, 1)
	req.Equal("1", transport.configPushes[0][fieldMembersOnly])
	req.Equal("0", transport.configPushes[0][fieldMembersByDefault])

	// And the affiliation list carries owner plus members
	req.Len(transport.affiliations, 1)
	items := transport.affiliations[0]
	req.Equal(domain.JID("bot@example.com"), items[0].JID)
	req.Equal("owner", items[0].Role)
	req.Len(items, 3)

	// And both absent members got exactly one invitation
	req.ElementsMatch([]domain.JID{"alice@example.com", "bob@example.com"}, transport.invites)
}

func TestRoom_SelfOnline_Echo_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	room := newRoomForTest(transport)
	roles := memberRoles(t, "alice@example.com")

	req.NoError(room.Join())
	room.HandlePresence(selfPresence(), roles)
	announcements := len(transport.sent)
	invites := len(transport.invites)

	// When the bot's own presence echo arrives again
	room.HandlePresence(selfPresence(), roles)

	// Then no duplicate invitation or announcement is produced
	req.Equal(RoomReady, room.Phase())
	req.Len(transport.invites, invites)
	req.Len(transport.sent, announcements)
}

func TestRoom_No_Members_Configured_Means_Open_Room(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	room := newRoomForTest(transport)
	roles := memberRoles(t, "")

	req.NoError(room.Join())
	room.HandlePresence(selfPresence(), roles)

	// Then the room is configured open, with only the bot affiliated
	req.Len(transport.configPushes, 1)
	req.Equal("0", transport.configPushes[0][fieldMembersOnly])
	req.Equal("1", transport.configPushes[0][fieldMembersByDefault])
	req.Len(transport.affiliations[0], 1)
	req.Empty(transport.invites)
}

func TestRoom_Config_Failure_Degrades_But_Room_Becomes_Ready(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	transport.configErr = errFake
	room := newRoomForTest(transport)
	roles := memberRoles(t, "alice@example.com")

	req.NoError(room.Join())

	// When the room configuration cannot be read
	room.HandlePresence(selfPresence(), roles)

	// Then no configuration is pushed but the room still reaches Ready
	// and reconciliation runs
	req.Equal(RoomReady, room.Phase())
	req.Empty(transport.configPushes)
	req.Equal([]domain.JID{"alice@example.com"}, transport.invites)
}

func TestRoom_Presence_Before_Ready_Tracks_Without_Greeting(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	room := newRoomForTest(transport)

	req.NoError(room.Join())

	// When an occupant shows up before the bot's own presence echo
	room.HandlePresence(event.RoomPresence{
		Room: testRoom, Nick: "alice", JID: "alice@example.com/web", Online: true,
	}, memberRoles(t, "alice@example.com"))

	// Then the occupant is tracked but not greeted or stamped
	jid, ok := room.ResolveNick("alice")
	req.True(ok)
	req.Equal(domain.JID("alice@example.com"), jid)
	req.Empty(transport.sent)
	req.Empty(room.LastSeen())
}

func TestRoom_Ready_Greets_And_Stamps_Joins_And_Leaves(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	room := newRoomForTest(transport)
	roles := memberRoles(t, "")

	req.NoError(room.Join())
	room.HandlePresence(selfPresence(), roles)

	// When an occupant joins and later leaves a ready room
	room.HandlePresence(event.RoomPresence{
		Room: testRoom, Nick: "alice", JID: "alice@example.com/web", Online: true,
	}, roles)
	room.HandlePresence(event.RoomPresence{
		Room: testRoom, Nick: "alice", JID: "alice@example.com/web", Online: false,
	}, roles)

	// Then both transitions are announced and stamped
	bodies := transport.sentBodies()
	req.Contains(bodies, "Hello alice!")
	req.Contains(bodies, "Bye bye alice")

	_, stamped := room.LastSeen()["alice@example.com"]
	req.True(stamped)
	_, still := room.ResolveNick("alice")
	req.False(still)
}

func TestRoom_Reconcile_Does_Not_Invite_Present_Or_Already_Invited(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	room := newRoomForTest(transport)
	roles := memberRoles(t, "alice@example.com,bob@example.com")

	req.NoError(room.Join())
	room.HandlePresence(event.RoomPresence{
		Room: testRoom, Nick: "alice", JID: "alice@example.com/web", Online: true,
	}, roles)
	room.HandlePresence(selfPresence(), roles)

	// Then only the absent member is invited
	req.Equal([]domain.JID{"bob@example.com"}, transport.invites)

	// When reconciliation runs again with no presence change
	room.Reconcile(roles)

	// Then nothing is sent twice
	req.Equal([]domain.JID{"bob@example.com"}, transport.invites)

	// And the present member got a fresh last-seen stamp
	_, stamped := room.LastSeen()["alice@example.com"]
	req.True(stamped)
}

func TestRoom_PruneInvited_Keeps_Subset_Of_Members(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	room := newRoomForTest(transport)

	req.NoError(room.Join())
	room.HandlePresence(selfPresence(), memberRoles(t, "alice@example.com,bob@example.com"))
	req.Len(room.Invited(), 2)

	// When bob is removed from the configured membership
	room.PruneInvited(memberRoles(t, "alice@example.com"))

	// Then his invite record is dropped
	req.Equal([]domain.JID{"alice@example.com"}, room.Invited())
}

func TestRoom_RestoreState_Prevents_Reinviting(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	room := newRoomForTest(transport)
	roles := memberRoles(t, "alice@example.com")

	// Given a persisted invite from a previous run
	before := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	room.RestoreState([]domain.JID{"alice@example.com"},
		map[domain.JID]time.Time{"alice@example.com": before})

	req.NoError(room.Join())
	room.HandlePresence(selfPresence(), roles)

	// Then the restored user is not invited again
	req.Empty(transport.invites)
	req.Equal(before, room.LastSeen()["alice@example.com"])
}
