package chitocomet

import (
	"bytes"
	"testing"

	"github.com/sairash/chitocomet/jsontree"
)

func TestUnlinkFiresOnce(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	a := s.NewCustomPipe(nil)
	b := s.NewCustomPipe(nil)

	calls := 0
	s.Link(a, b, func(x, y *Pipe) {
		calls++
		if x != a || y != b {
			t.Errorf("onUnlink(%s, %s), want (%s, %s)", x.ID, y.ID, a.ID, b.ID)
		}
	})
	s.Link(b, a, func(x, y *Pipe) { calls += 100 })
	if !s.Linked(a, b) || !s.Linked(b, a) {
		t.Fatalf("Linked() = false after Link")
	}

	s.DestroyPipe(a)
	s.DestroyPipe(b)
	if calls != 1 {
		t.Errorf("unlink callbacks ran %d times, want 1", calls)
	}
	if s.Pipe(a.ID) != nil || s.Pipe(b.ID) != nil {
		t.Errorf("destroyed pipes are still registered")
	}
}

func TestDestroyPipeOnlyRemovesCustom(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	sessid := connect(t, s, "10.0.0.1")
	u := s.User(sessid)

	s.DestroyPipe(u.Pipe)
	if s.Pipe(u.Pipe.ID) != u.Pipe {
		t.Errorf("DestroyPipe() removed a user pipe")
	}
	if s.UserByPipe(u.Pipe.ID) != u {
		t.Errorf("UserByPipe() = %v, want the user", s.UserByPipe(u.Pipe.ID))
	}
}

func TestPostToPipes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	var sunk [][]byte
	custom := s.NewCustomPipe(func(raw []byte) { sunk = append(sunk, append([]byte(nil), raw...)) })

	if err := s.Post(custom.ID, "NOTE", jsontree.NewObject().SetString("text", "hello")); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if len(sunk) != 1 || !bytes.Contains(sunk[0], []byte(`"raw":"NOTE"`)) ||
		!bytes.Contains(sunk[0], []byte(`"text":"hello"`)) {
		t.Errorf("sink got %q", sunk)
	}

	if err := s.Post("missing", "NOTE", nil); err != ErrUnknownPipe {
		t.Errorf("Post(missing) = %v, want %v", err, ErrUnknownPipe)
	}

	sessid := connect(t, s, "10.0.0.1")
	u := s.User(sessid)
	if err := s.Post(u.Pipe.ID, "NOTE", nil); err != nil {
		t.Fatal(err)
	}
	c := get(s, "10.0.0.1", "["+cmd("CHECK", sessid, 1, "")+"]")
	if _, ok := findRaw(responseRaws(t, c), "NOTE"); !ok {
		t.Errorf("user pipe raws = %s, want NOTE", c.out.Bytes())
	}
}

func TestUserDeletionUnlinksPipes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	sessid := connect(t, s, "10.0.0.1")
	u := s.User(sessid)
	custom := s.NewCustomPipe(nil)

	unlinked := false
	s.Link(custom, u.Pipe, func(a, b *Pipe) { unlinked = true })
	s.DeleteUser(u)

	if !unlinked {
		t.Errorf("deleting the user did not fire the unlink callback")
	}
	if s.Linked(custom, u.Pipe) {
		t.Errorf("custom pipe still linked to a deleted user")
	}
	if s.User(sessid) != nil {
		t.Errorf("User(%q) still registered", sessid)
	}
}

func TestPipeObjectCarriesProperties(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	ch, err := s.CreateChannel("news", DefaultTopic)
	if err != nil {
		t.Fatal(err)
	}
	ch.Pipe.Properties.SetString("color", "blue")
	ch.Pipe.Properties.SetString("mood", "calm")
	ch.Pipe.Properties.SetString("color", "red")
	ch.Pipe.Properties.Delete("mood")

	want := `{"pubid":"` + ch.Pipe.ID + `","casttype":"multi","properties":{"color":"red","name":"news"}}`
	if got := ch.Pipe.object().String(); got != want {
		t.Errorf("object() = %s, want %s", got, want)
	}
	if keys := ch.Pipe.Properties.Keys(); len(keys) != 1 || keys[0] != "color" {
		t.Errorf("Keys() = %v, want [color]", keys)
	}
}
