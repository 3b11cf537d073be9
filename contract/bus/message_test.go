package bus_test

import (
	"testing"
	"time"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
)

type AccountOpened struct{ ID int }

type renamed struct{}

func (renamed) MessageType() string { return "legacy.Renamed" }

type transfer struct {
	cbus.CommandBase
	Amount float64
}

func TestNameOf(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{AccountOpened{ID: 1}, "AccountOpened"},
		{&AccountOpened{ID: 1}, "AccountOpened"},
		{renamed{}, "legacy.Renamed"},
		{&renamed{}, "legacy.Renamed"},
		{(*renamed)(nil), "legacy.Renamed"},
		{(*AccountOpened)(nil), "AccountOpened"},
		{map[string]int{}, "map[string]int"},
		{nil, ""},
	}

	for _, tc := range tests {
		if got := cbus.NameOf(tc.in); got != tc.want {
			t.Fatalf("NameOf(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCommandBase_Timestamp(t *testing.T) {
	before := time.Now()
	c := transfer{CommandBase: cbus.NewCommandBase(), Amount: 1}
	after := time.Now()

	var _ cbus.Command = c

	ts := c.Timestamp()
	if ts.Before(before) || ts.After(after) {
		t.Fatalf("timestamp %v outside [%v, %v]", ts, before, after)
	}
}
