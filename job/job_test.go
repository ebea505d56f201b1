package job

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeDefaults(t *testing.T) {
	r := Request{}
	r.NormalizeDefaults()
	if r.Name != "unnamed-job" {
		t.Errorf("Name = %q, want unnamed-job", r.Name)
	}
	if r.Dir != "." {
		t.Errorf("Dir = %q, want .", r.Dir)
	}

	r2 := Request{Name: "build", Dir: "/src"}
	r2.NormalizeDefaults()
	if r2.Name != "build" || r2.Dir != "/src" {
		t.Errorf("NormalizeDefaults overwrote explicit fields: %+v", r2)
	}
}

func TestStateKindString(t *testing.T) {
	cases := map[StateKind]string{
		Queued:       "queued",
		Running:      "running",
		Finished:     "finished",
		Failed:       "failed",
		Killed:       "killed",
		StateKind(99): "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}

func TestParseStateKind(t *testing.T) {
	for _, name := range []string{"queued", "running", "finished", "failed", "killed"} {
		k, err := ParseStateKind(name)
		if err != nil {
			t.Fatalf("ParseStateKind(%q): %v", name, err)
		}
		if k.String() != name {
			t.Errorf("ParseStateKind(%q).String() = %q", name, k.String())
		}
	}
	if _, err := ParseStateKind("bogus"); err == nil {
		t.Error("expected error for unknown state name")
	}
}

func TestTerminal(t *testing.T) {
	terminal := []StateKind{Finished, Failed, Killed}
	for _, k := range terminal {
		if !k.Terminal() {
			t.Errorf("%v.Terminal() = false, want true", k)
		}
	}
	nonTerminal := []StateKind{Queued, Running}
	for _, k := range nonTerminal {
		if k.Terminal() {
			t.Errorf("%v.Terminal() = true, want false", k)
		}
	}
}

func TestCanTransitionTo(t *testing.T) {
	q := State{Kind: Queued}
	if !q.CanTransitionTo(Running) || !q.CanTransitionTo(Killed) {
		t.Error("Queued should allow Running and Killed")
	}
	if q.CanTransitionTo(Finished) || q.CanTransitionTo(Failed) {
		t.Error("Queued should not allow Finished/Failed directly")
	}

	r := State{Kind: Running}
	for _, to := range []StateKind{Finished, Failed, Killed} {
		if !r.CanTransitionTo(to) {
			t.Errorf("Running should allow %v", to)
		}
	}
	if r.CanTransitionTo(Queued) {
		t.Error("Running should not allow Queued")
	}

	for _, from := range []StateKind{Finished, Failed, Killed} {
		s := State{Kind: from}
		if s.CanTransitionTo(Running) {
			t.Errorf("%v should be terminal and allow no transitions", from)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	j := Job{
		ID: 1,
		Request: Request{
			Args: []string{"a", "b"},
			Env:  map[string]string{"K": "V"},
		},
	}
	c := j.Clone()
	c.Request.Args[0] = "mutated"
	c.Request.Env["K"] = "mutated"

	if j.Request.Args[0] != "a" {
		t.Error("Clone shared the Args backing array")
	}
	if j.Request.Env["K"] != "V" {
		t.Error("Clone shared the Env map")
	}
}

func TestJobMarshalJSONIncludesStatus(t *testing.T) {
	j := Job{
		ID:    7,
		State: FinishedState(0, time.Now()),
	}
	b, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["status"] != "finished" {
		t.Errorf("status = %v, want finished", out["status"])
	}
}

func TestFilesSink(t *testing.T) {
	s := Files("/tmp/out.log", "/tmp/out.log")
	if s.Kind != ToFiles {
		t.Errorf("Kind = %v, want ToFiles", s.Kind)
	}
	if s.StdoutPath != s.StderrPath {
		t.Error("Files with equal paths should keep them equal")
	}
}
