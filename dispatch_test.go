package chitocomet

import (
	"reflect"
	"testing"
)

func TestChallengeMustIncrease(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	var seen []int64
	s.RegisterCommand("COUNT", NeedSession, HandlerFunc(func(cc *CallContext) Result {
		seen = append(seen, cc.Sub.lastChl)
		return ResultOK
	}))
	sessid := connect(t, s, "10.0.0.1")

	batch := "[" + cmd("COUNT", sessid, 5, "") + "," + cmd("COUNT", sessid, 7, "") + "," +
		cmd("COUNT", sessid, 6, "") + "," + cmd("COUNT", sessid, 8, "") + "]"
	c := get(s, "10.0.0.1", batch)

	if want := []int64{5, 7}; !reflect.DeepEqual(seen, want) {
		t.Errorf("executed chl = %v, want %v", seen, want)
	}
	raws := responseRaws(t, c)
	r, ok := findRaw(raws, "ERR")
	if !ok {
		t.Fatalf("raws = %v, want an ERR", rawNames(raws))
	}
	if got := errValue(t, r); got != ErrBadChl.Value {
		t.Errorf("ERR value = %q, want %q", got, ErrBadChl.Value)
	}
}

func TestMissingChallengeIsStale(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	sessid := connect(t, s, "10.0.0.1")
	c := get(s, "10.0.0.1", `[{"cmd":"CHECK","sessid":"`+sessid+`"}]`)

	r, ok := findRaw(responseRaws(t, c), "ERR")
	if !ok || errValue(t, r) != ErrBadChl.Value {
		t.Errorf("CHECK without chl: raws = %s, want BAD_CHL", c.out.Bytes())
	}
}

func TestDispatchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		batch string
		want  string
	}{
		{"unknown session", `[{"cmd":"CHECK","sessid":"nope","chl":1}]`, ErrBadSessID.Value},
		{"unknown command", `[{"cmd":"DANCE"}]`, ErrBadCmd.Value},
		{"not json", `[{"cmd":`, ErrBadJSON.Value},
		{"not an array", `"CONNECT"`, ErrBadJSON.Value},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t)
			c := get(s, "10.0.0.1", tt.batch)
			raws := responseRaws(t, c)
			if len(raws) != 1 || raws[0].Raw != "ERR" {
				t.Fatalf("raws = %v, want one ERR", rawNames(raws))
			}
			if got := errValue(t, raws[0]); got != tt.want {
				t.Errorf("ERR value = %q, want %q", got, tt.want)
			}
			if !c.closed {
				t.Errorf("connection still open after a bare error")
			}
		})
	}
}

func TestBadParamsStopsBatch(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	sessid := connect(t, s, "10.0.0.1")
	ran := false
	s.RegisterCommand("AFTER", NeedSession, HandlerFunc(func(cc *CallContext) Result {
		ran = true
		return ResultOK
	}))

	c := get(s, "10.0.0.1", "["+cmd("LEFT", sessid, 1, "")+","+cmd("AFTER", sessid, 2, "")+"]")
	r, ok := findRaw(responseRaws(t, c), "ERR")
	if !ok || errValue(t, r) != ErrBadParams.Value {
		t.Errorf("raws = %s, want BAD_PARAMS", c.out.Bytes())
	}
	if ran {
		t.Errorf("command after BAD_PARAMS ran")
	}
}

func TestRegisterAndUnregisterCommand(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.RegisterCommand("hello", NeedNothing, HandlerFunc(func(cc *CallContext) Result {
		return ResultOK
	}))
	if _, ok := s.commands["HELLO"]; !ok {
		t.Fatalf("RegisterCommand() did not upper-case the name")
	}
	if !s.UnregisterCommand("Hello") {
		t.Errorf("UnregisterCommand() = false, want true")
	}
	if s.UnregisterCommand("HELLO") {
		t.Errorf("second UnregisterCommand() = true, want false")
	}
}

func TestQuitDeletesUser(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	sessid := connect(t, s, "10.0.0.1")
	c := get(s, "10.0.0.1", "["+cmd("QUIT", sessid, 1, "")+"]")

	if _, ok := findRaw(responseRaws(t, c), "QUIT"); !ok {
		t.Errorf("raws = %s, want QUIT", c.out.Bytes())
	}
	if s.User(sessid) != nil {
		t.Errorf("User(%q) still exists after QUIT", sessid)
	}
}

func TestRateLimited(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestServer(t, WithClock(clock.now))
	s.cfg.Limits.CommandRate = 1
	s.cfg.Limits.CommandBurst = 2
	sessid := connect(t, s, "10.0.0.1")

	batch := "[" + cmd("CHECK", sessid, 1, "") + "," + cmd("CHECK", sessid, 2, "") + "," +
		cmd("CHECK", sessid, 3, "") + "]"
	c := get(s, "10.0.0.1", batch)
	r, ok := findRaw(responseRaws(t, c), "ERR")
	if !ok || errValue(t, r) != ErrRateLimited.Value {
		t.Errorf("raws = %s, want RATE_LIMITED", c.out.Bytes())
	}
}
