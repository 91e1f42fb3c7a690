package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/ndanh/guildchat/pkg/backend"
	"github.com/ndanh/guildchat/pkg/model"
)

// fakeRows serves profiles and counts fetches so the tests can observe
// memoization. Only MaybeSingle is exercised by the directory.
type fakeRows struct {
	profiles map[string]model.Profile
	err      error
	fetches  int
}

func (f *fakeRows) MaybeSingle(_ context.Context, _ string, q backend.Query, dest any) (bool, error) {
	f.fetches++
	if f.err != nil {
		return false, f.err
	}
	id, _ := q.Filters[0].Value.(string)
	p, ok := f.profiles[id]
	if !ok {
		return false, nil
	}
	*dest.(*model.Profile) = p
	return true, nil
}

func (f *fakeRows) Insert(context.Context, string, any, any) error { return errors.New("not used") }
func (f *fakeRows) Select(context.Context, string, backend.Query, any) error {
	return errors.New("not used")
}
func (f *fakeRows) Single(context.Context, string, backend.Query, any) error {
	return errors.New("not used")
}
func (f *fakeRows) Update(context.Context, string, any, backend.Query, any) error {
	return errors.New("not used")
}
func (f *fakeRows) Delete(context.Context, string, backend.Query) error { return errors.New("not used") }
func (f *fakeRows) RPC(context.Context, string, any, any) error         { return errors.New("not used") }

func TestLookupMemoizes(t *testing.T) {
	rows := &fakeRows{profiles: map[string]model.Profile{
		"u1": {ID: "u1", Email: "u1@x", Nickname: "Uno"},
	}}
	d := NewDirectory(rows)

	for i := 0; i < 3; i++ {
		p, err := d.Lookup(context.Background(), "u1")
		if err != nil {
			t.Fatal(err)
		}
		if p.Nickname != "Uno" {
			t.Errorf("nickname = %q", p.Nickname)
		}
	}
	if rows.fetches != 1 {
		t.Errorf("fetches = %d, want 1", rows.fetches)
	}
}

func TestLookupCachesMisses(t *testing.T) {
	rows := &fakeRows{}
	d := NewDirectory(rows)

	for i := 0; i < 2; i++ {
		p, err := d.Lookup(context.Background(), "ghost")
		if err != nil {
			t.Fatal(err)
		}
		if p.ID != "ghost" {
			t.Errorf("profile = %+v", p)
		}
	}
	if rows.fetches != 1 {
		t.Errorf("fetches = %d, missing rows must be cached too", rows.fetches)
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	rows := &fakeRows{profiles: map[string]model.Profile{
		"nick": {ID: "nick", Email: "n@x", Nickname: "Nick"},
		"mail": {ID: "mail", Email: "m@x"},
	}}
	d := NewDirectory(rows)

	cases := []struct{ id, want string }{
		{"nick", "Nick"},
		{"mail", "m@x"},
		{"ghost", "Unknown"},
	}
	for _, tc := range cases {
		if got := d.DisplayName(context.Background(), tc.id); got != tc.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestDisplayNameOnError(t *testing.T) {
	rows := &fakeRows{err: errors.New("backend down")}
	d := NewDirectory(rows)

	if got := d.DisplayName(context.Background(), "u9"); got != "u9" {
		t.Errorf("DisplayName = %q, want the raw id on failure", got)
	}
}
