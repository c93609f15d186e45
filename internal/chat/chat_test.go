package chat

import "testing"

func TestJoinedPolicy(t *testing.T) {
	cases := []struct {
		name string
		upd  MemberUpdate
		want bool
	}{
		{"left to member", MemberUpdate{OldStatus: StatusLeft, NewStatus: StatusMember}, true},
		{"kicked to member", MemberUpdate{OldStatus: StatusKicked, NewStatus: StatusMember}, true},
		{"left to restricted member", MemberUpdate{OldStatus: StatusLeft, NewStatus: StatusRestricted, IsMember: true}, true},
		{"left to restricted non-member", MemberUpdate{OldStatus: StatusLeft, NewStatus: StatusRestricted}, false},
		{"member stays", MemberUpdate{OldStatus: StatusMember, NewStatus: StatusMember}, false},
		{"restricted member unmuted", MemberUpdate{OldStatus: StatusRestricted, OldIsMember: true, NewStatus: StatusMember}, false},
		{"restricted outsider joins", MemberUpdate{OldStatus: StatusRestricted, NewStatus: StatusMember}, true},
		{"member promoted", MemberUpdate{OldStatus: StatusMember, NewStatus: StatusAdministrator}, false},
		{"member leaves", MemberUpdate{OldStatus: StatusMember, NewStatus: StatusLeft}, false},
	}
	for _, c := range cases {
		if got := c.upd.Joined(); got != c.want {
			t.Fatalf("%s: Joined() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMention(t *testing.T) {
	if got := (User{Username: "neo"}).Mention(); got != "@neo" {
		t.Fatalf("unexpected mention %q", got)
	}
	if got := (User{FirstName: "Ada", LastName: "Lovelace"}).Mention(); got != "Ada Lovelace" {
		t.Fatalf("unexpected mention %q", got)
	}
	if got := (User{}).Mention(); got != "user" {
		t.Fatalf("unexpected mention %q", got)
	}
}
