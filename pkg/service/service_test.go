package service

import (
	"context"
	"errors"
	"testing"
)

type testService struct {
	name    string
	started bool
	stopErr error
	order   *[]string
}

func (t *testService) Run()           { t.started = true }
func (t *testService) Stop() error    { *t.order = append(*t.order, t.name); return t.stopErr }
func (t *testService) String() string { return t.name }

func TestGroup(t *testing.T) {
	var order []string
	bad := errors.New("bad")
	a := &testService{name: "a", order: &order}
	b := &testService{name: "b", order: &order, stopErr: bad}
	c := &testService{name: "c", order: &order}

	var g Group
	g.Add(a)
	g.AddIf(true, b)
	g.AddIf(false, c)
	g.Add("not runnable")

	g.Start()
	if !a.started || !b.started || c.started {
		t.Errorf("unexpected start states: %v %v %v", a.started, b.started, c.started)
	}

	err := g.Shutdown(context.Background())
	if !errors.Is(err, bad) {
		t.Errorf("expected the stop error, got %v", err)
	}
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Errorf("wrong stop order %v", order)
	}
}
