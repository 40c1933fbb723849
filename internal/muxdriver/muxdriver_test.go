package muxdriver

import "testing"

func TestBuildSessionNameSanitizesAndSubstitutes(t *testing.T) {
	d := NewTmuxDriver()
	got := d.BuildSessionName("my.profile:x", "deadbeef", "konsolai-{profile}-{id}")
	want := "konsolai-my-profile-x-deadbeef"
	if got != want {
		t.Errorf("BuildSessionName = %q, want %q", got, want)
	}
}

func TestBuildSessionNameDefaultTemplate(t *testing.T) {
	d := NewTmuxDriver()
	got := d.BuildSessionName("p1", "abc12345", "")
	if got != "konsolai-p1-abc12345" {
		t.Errorf("BuildSessionName = %q", got)
	}
}

func TestGenerateSessionIDFormat(t *testing.T) {
	d := NewTmuxDriver()
	id := d.GenerateSessionID()
	if len(id) != 8 {
		t.Fatalf("len(id) = %d, want 8", len(id))
	}
	for _, r := range id {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			t.Fatalf("id %q contains non-hex char %q", id, r)
		}
	}
}

func TestParseSessionList(t *testing.T) {
	out := "konsolai-p1-abc12345\t1\t1700000000\t1\nkonsolai-p2-deadbeef\t2\t1700000100\t0"
	sessions := parseSessionList(out)
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].Name != "konsolai-p1-abc12345" || !sessions[0].Attached {
		t.Errorf("sessions[0] = %+v", sessions[0])
	}
	if sessions[1].Windows != 2 || sessions[1].Attached {
		t.Errorf("sessions[1] = %+v", sessions[1])
	}
}

func TestParseSessionListEmpty(t *testing.T) {
	if got := parseSessionList(""); got != nil {
		t.Errorf("parseSessionList(\"\") = %v, want nil", got)
	}
}

func TestSessionNamePatternMatches(t *testing.T) {
	re := SessionNamePattern("konsolai")
	m := re.FindStringSubmatch("konsolai-my-profile-abc12345")
	if m == nil {
		t.Fatal("expected match")
	}
	if m[1] != "my-profile" || m[2] != "abc12345" {
		t.Errorf("got profile=%q id=%q", m[1], m[2])
	}
	if re.MatchString("other-profile-abc12345") {
		t.Error("unexpected match for different prefix")
	}
}
