package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"companion/pkg/domain"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// openStores returns every Store implementation under test.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	gormStore, err := NewGormStore(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = gormStore.Close() })
	return map[string]Store{
		"gorm":   gormStore,
		"memory": NewMemoryStore(),
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func mustUser(t *testing.T, s Store, username string) domain.User {
	t.Helper()
	u := domain.User{
		ID:           "u-" + username,
		Name:         username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    base,
		UpdatedAt:    base,
	}
	if err := s.SaveUser(u); err != nil {
		t.Fatalf("save user %s: %v", username, err)
	}
	return u
}

func mustRoom(t *testing.T, s Store, id string, host domain.User, topic, name, desc string, at time.Time) domain.Room {
	t.Helper()
	tp, err := s.GetOrCreateTopic(topic, at)
	if err != nil {
		t.Fatalf("topic %s: %v", topic, err)
	}
	r := domain.Room{
		ID:          id,
		HostID:      host.ID,
		TopicID:     tp.ID,
		Name:        name,
		Description: desc,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if err := s.SaveRoom(r); err != nil {
		t.Fatalf("save room %s: %v", id, err)
	}
	return r
}

func mustMessage(t *testing.T, s Store, id string, author domain.User, room domain.Room, at time.Time) {
	t.Helper()
	msg := domain.Message{
		ID:        id,
		UserID:    author.ID,
		RoomID:    room.ID,
		Body:      "body " + id,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := s.AppendMessage(msg); err != nil {
		t.Fatalf("append message %s: %v", id, err)
	}
}

func roomIDs(rooms []domain.Room) []string {
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestUserLookups(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		u := mustUser(t, s, "alice")

		got, ok, err := s.GetUserByEmail("alice@example.com")
		if err != nil || !ok || got.ID != u.ID {
			t.Fatalf("get by email = (%+v, %v, %v)", got, ok, err)
		}
		if _, ok, err := s.GetUserByEmail("nobody@example.com"); err != nil || ok {
			t.Fatalf("expected missing email to be not found, ok=%v err=%v", ok, err)
		}
		if _, ok, err := s.GetUserByID("missing"); err != nil || ok {
			t.Fatalf("expected missing id to be not found, ok=%v err=%v", ok, err)
		}
		if exists, err := s.HasUsername("alice"); err != nil || !exists {
			t.Fatalf("HasUsername = %v, %v", exists, err)
		}
		if exists, err := s.HasUserEmail("bob@example.com"); err != nil || exists {
			t.Fatalf("HasUserEmail = %v, %v", exists, err)
		}

		u.Bio = "hello"
		u.UpdatedAt = base.Add(time.Hour)
		if err := s.SaveUser(u); err != nil {
			t.Fatalf("update user: %v", err)
		}
		got, _, _ = s.GetUserByID(u.ID)
		if got.Bio != "hello" {
			t.Fatalf("bio = %q, want hello", got.Bio)
		}

		dup := domain.User{ID: "u-other", Username: "alice", Email: "other@example.com", PasswordHash: "x", CreatedAt: base, UpdatedAt: base}
		if err := s.SaveUser(dup); err == nil {
			t.Fatalf("expected duplicate username to be rejected")
		}
	})
}

func TestGetOrCreateTopicDeduplicates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		first, err := s.GetOrCreateTopic("Music", base)
		if err != nil {
			t.Fatalf("first topic: %v", err)
		}
		second, err := s.GetOrCreateTopic(" Music ", base.Add(time.Minute))
		if err != nil {
			t.Fatalf("second topic: %v", err)
		}
		if first.ID != second.ID {
			t.Fatalf("expected one topic, got ids %q and %q", first.ID, second.ID)
		}
		topics, err := s.ListTopics("", 0)
		if err != nil {
			t.Fatalf("list topics: %v", err)
		}
		if len(topics) != 1 || topics[0].Name != "Music" {
			t.Fatalf("topics = %+v, want single Music", topics)
		}
		if _, err := s.GetOrCreateTopic("  ", base); err == nil {
			t.Fatalf("expected blank topic to be rejected")
		}
	})
}

func TestSearchRoomsMatchesAnyField(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		alice := mustUser(t, s, "alice")
		bob := mustUser(t, s, "bob")
		mustRoom(t, s, "r-go", alice, "Python", "Let's learn Go", "generics", base.Add(1*time.Minute))
		mustRoom(t, s, "r-jazz", bob, "Music", "Friday", "smooth evenings", base.Add(2*time.Minute))
		mustRoom(t, s, "r-pct", bob, "Math", "100% proof", "under_score", base.Add(3*time.Minute))

		tests := []struct {
			query string
			want  []string
		}{
			{query: "", want: []string{"r-pct", "r-jazz", "r-go"}},
			{query: "python", want: []string{"r-go"}},
			{query: "LEARN", want: []string{"r-go"}},
			{query: "evening", want: []string{"r-jazz"}},
			{query: "ALI", want: []string{"r-go"}},
			{query: "bob", want: []string{"r-pct", "r-jazz"}},
			{query: "%", want: []string{"r-pct"}},
			{query: "_", want: []string{"r-pct"}},
			{query: "nothing-matches", want: []string{}},
		}
		for _, tc := range tests {
			rooms, err := s.SearchRooms(tc.query)
			if err != nil {
				t.Fatalf("search %q: %v", tc.query, err)
			}
			got := roomIDs(rooms)
			if fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Fatalf("search %q = %v, want %v", tc.query, got, tc.want)
			}
		}

		rooms, _ := s.SearchRooms("python")
		if rooms[0].Host.Username != "alice" || rooms[0].Topic.Name != "Python" {
			t.Fatalf("expected hydrated host and topic, got %+v", rooms[0])
		}
	})
}

func TestSearchFoldsNonASCII(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		alice := mustUser(t, s, "alice")
		mustRoom(t, s, "r-jazz", alice, "Musique", "ÉCOLE DE JAZZ", "", base.Add(1*time.Minute))
		mustRoom(t, s, "r-uber", alice, "Über Musik", "Rundgang", "Grüße aus Köln", base.Add(2*time.Minute))

		tests := []struct {
			query string
			want  []string
		}{
			{query: "ÉCOLE", want: []string{"r-jazz"}},
			{query: "école", want: []string{"r-jazz"}},
			{query: "École de", want: []string{"r-jazz"}},
			{query: "über", want: []string{"r-uber"}},
			{query: "ÜBER", want: []string{"r-uber"}},
			{query: "grüße", want: []string{"r-uber"}},
			{query: "KÖLN", want: []string{"r-uber"}},
		}
		for _, tc := range tests {
			rooms, err := s.SearchRooms(tc.query)
			if err != nil {
				t.Fatalf("search %q: %v", tc.query, err)
			}
			if got := roomIDs(rooms); fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Fatalf("search %q = %v, want %v", tc.query, got, tc.want)
			}
		}

		topics, err := s.ListTopics("über", 0)
		if err != nil {
			t.Fatalf("list topics: %v", err)
		}
		if len(topics) != 1 || topics[0].Name != "Über Musik" {
			t.Fatalf("topics = %+v, want Über Musik", topics)
		}
		mustMessage(t, s, "m1", alice, domain.Room{ID: "r-uber", Name: "Rundgang"}, base)
		if msgs, _ := s.ListMessagesByTopic("ÜBER", 0); len(msgs) != 1 {
			t.Fatalf("messages by topic = %+v, want one", msgs)
		}
	})
}

func TestGormStoreBackfillsSearchColumns(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "forum.db")
	s, err := NewGormStore(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	alice := mustUser(t, s, "alice")
	mustRoom(t, s, "r-jazz", alice, "Musique", "ÉCOLE DE JAZZ", "Soirée", base)
	// Simulate rows written before the fold columns existed.
	if err := s.db.Model(&TopicModel{}).Where("1 = 1").UpdateColumn("name_fold", "").Error; err != nil {
		t.Fatalf("clear topic folds: %v", err)
	}
	if err := s.db.Model(&RoomModel{}).Where("1 = 1").UpdateColumns(map[string]any{"name_fold": "", "description_fold": ""}).Error; err != nil {
		t.Fatalf("clear room folds: %v", err)
	}
	if rooms, _ := s.SearchRooms("école"); len(rooms) != 0 {
		t.Fatalf("expected cleared folds to miss, got %v", roomIDs(rooms))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewGormStore(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	for _, q := range []string{"école", "musique", "SOIRÉE"} {
		rooms, err := s.SearchRooms(q)
		if err != nil {
			t.Fatalf("search %q: %v", q, err)
		}
		if len(rooms) != 1 || !rooms[0].UpdatedAt.Equal(base) {
			t.Fatalf("search %q = %+v, want r-jazz untouched", q, rooms)
		}
	}
}

func TestTopicsOrderedByCreationTime(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		for i, name := range []string{"Zebra", "Apple", "Mango"} {
			if _, err := s.GetOrCreateTopic(name, base.Add(time.Duration(3-i)*time.Hour)); err != nil {
				t.Fatalf("topic %s: %v", name, err)
			}
		}
		topics, err := s.ListTopics("", 0)
		if err != nil {
			t.Fatalf("list topics: %v", err)
		}
		var names []string
		for _, tp := range topics {
			names = append(names, tp.Name)
		}
		if fmt.Sprint(names) != "[Mango Apple Zebra]" {
			t.Fatalf("topics = %v, want oldest first", names)
		}
		if !topics[0].CreatedAt.Equal(base.Add(time.Hour)) {
			t.Fatalf("created at = %v, want %v", topics[0].CreatedAt, base.Add(time.Hour))
		}
	})
}

func TestParticipantsOrderedByJoinTime(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		alice := mustUser(t, s, "alice")
		bob := mustUser(t, s, "bob")
		carol := mustUser(t, s, "carol")
		room := mustRoom(t, s, "r-1", alice, "Go", "Gophers", "", base)

		joins := []struct {
			user domain.User
			at   time.Time
		}{
			{carol, base.Add(3 * time.Minute)},
			{alice, base.Add(1 * time.Minute)},
			{bob, base.Add(2 * time.Minute)},
			{alice, base.Add(9 * time.Minute)},
		}
		for _, j := range joins {
			if err := s.AddParticipant(room.ID, j.user.ID, j.at); err != nil {
				t.Fatalf("add participant %s: %v", j.user.Username, err)
			}
		}
		users, err := s.ListParticipants(room.ID)
		if err != nil {
			t.Fatalf("list participants: %v", err)
		}
		var got []string
		for _, u := range users {
			got = append(got, u.Username)
		}
		if fmt.Sprint(got) != "[alice bob carol]" {
			t.Fatalf("participants = %v, want join order", got)
		}
	})
}

func TestAddParticipantIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		alice := mustUser(t, s, "alice")
		bob := mustUser(t, s, "bob")
		room := mustRoom(t, s, "r-1", alice, "Go", "Gophers", "", base)

		for i := 0; i < 3; i++ {
			if err := s.AddParticipant(room.ID, bob.ID, base.Add(time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("add participant: %v", err)
			}
		}
		participants, err := s.ListParticipants(room.ID)
		if err != nil {
			t.Fatalf("list participants: %v", err)
		}
		if len(participants) != 1 || participants[0].ID != bob.ID {
			t.Fatalf("participants = %+v, want only bob", participants)
		}
		got, ok, err := s.GetRoom(room.ID)
		if err != nil || !ok {
			t.Fatalf("get room: ok=%v err=%v", ok, err)
		}
		if got.ParticipantCount != 1 {
			t.Fatalf("participant count = %d, want 1", got.ParticipantCount)
		}
	})
}

func TestMessagesOrderingAndFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		alice := mustUser(t, s, "alice")
		bob := mustUser(t, s, "bob")
		goRoom := mustRoom(t, s, "r-go", alice, "Go", "Gophers", "", base)
		jazz := mustRoom(t, s, "r-jazz", bob, "Music", "Jazz", "", base)

		mustMessage(t, s, "m1", alice, goRoom, base.Add(1*time.Minute))
		mustMessage(t, s, "m2", bob, jazz, base.Add(2*time.Minute))
		mustMessage(t, s, "m3", bob, goRoom, base.Add(3*time.Minute))

		all, err := s.ListMessages(0)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		if len(all) != 3 || all[0].ID != "m3" || all[2].ID != "m1" {
			t.Fatalf("expected newest first, got %+v", all)
		}
		if all[0].Author.Username != "bob" || all[0].RoomName != "Gophers" {
			t.Fatalf("expected hydrated author and room, got %+v", all[0])
		}

		limited, _ := s.ListMessages(2)
		if len(limited) != 2 {
			t.Fatalf("limit ignored: %d messages", len(limited))
		}

		byTopic, _ := s.ListMessagesByTopic("mus", 5)
		if len(byTopic) != 1 || byTopic[0].ID != "m2" {
			t.Fatalf("by topic = %+v, want m2", byTopic)
		}
		byRoom, _ := s.ListMessagesByRoom(goRoom.ID)
		if len(byRoom) != 2 || byRoom[0].ID != "m3" {
			t.Fatalf("by room = %+v", byRoom)
		}
		byUser, _ := s.ListMessagesByUser(bob.ID)
		if len(byUser) != 2 {
			t.Fatalf("by user = %+v", byUser)
		}

		msg, ok, err := s.GetMessage("m1")
		if err != nil || !ok || msg.Author.ID != alice.ID {
			t.Fatalf("get message = (%+v, %v, %v)", msg, ok, err)
		}
		if err := s.DeleteMessage("m1"); err != nil {
			t.Fatalf("delete message: %v", err)
		}
		if _, ok, _ := s.GetMessage("m1"); ok {
			t.Fatalf("expected message to be deleted")
		}
	})
}

func TestDeleteRoomRemovesMessagesAndParticipants(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		alice := mustUser(t, s, "alice")
		room := mustRoom(t, s, "r-1", alice, "Go", "Gophers", "", base)
		mustMessage(t, s, "m1", alice, room, base)
		if err := s.AddParticipant(room.ID, alice.ID, base); err != nil {
			t.Fatalf("add participant: %v", err)
		}

		if err := s.DeleteRoom(room.ID); err != nil {
			t.Fatalf("delete room: %v", err)
		}
		if _, ok, _ := s.GetRoom(room.ID); ok {
			t.Fatalf("expected room to be deleted")
		}
		if msgs, _ := s.ListMessages(0); len(msgs) != 0 {
			t.Fatalf("expected messages to be deleted, got %d", len(msgs))
		}
		if users, _ := s.ListParticipants(room.ID); len(users) != 0 {
			t.Fatalf("expected participants to be deleted, got %d", len(users))
		}
	})
}

func TestListTopicsCountsAndFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		alice := mustUser(t, s, "alice")
		mustRoom(t, s, "r-1", alice, "Music", "One", "", base)
		mustRoom(t, s, "r-2", alice, "Music", "Two", "", base.Add(time.Minute))
		if _, err := s.GetOrCreateTopic("Movies", base); err != nil {
			t.Fatalf("topic: %v", err)
		}

		topics, err := s.ListTopics("MU", 0)
		if err != nil {
			t.Fatalf("list topics: %v", err)
		}
		if len(topics) != 1 || topics[0].Name != "Music" || topics[0].RoomCount != 2 {
			t.Fatalf("topics = %+v, want Music with 2 rooms", topics)
		}
		all, _ := s.ListTopics("", 1)
		if len(all) != 1 {
			t.Fatalf("limit ignored: %+v", all)
		}
	})
}

func TestListRoomsByHost(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		alice := mustUser(t, s, "alice")
		bob := mustUser(t, s, "bob")
		mustRoom(t, s, "r-a", alice, "Go", "A", "", base)
		mustRoom(t, s, "r-b", bob, "Go", "B", "", base)

		rooms, err := s.ListRoomsByHost(alice.ID)
		if err != nil {
			t.Fatalf("list by host: %v", err)
		}
		if fmt.Sprint(roomIDs(rooms)) != "[r-a]" {
			t.Fatalf("rooms = %v, want [r-a]", roomIDs(rooms))
		}
	})
}
