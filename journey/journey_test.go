package journey

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/hazyhaar/flowkeeper/flowgraph"
)

func flow(id, src, dst string, score int) flowgraph.UserFlow {
	return flowgraph.UserFlow{
		ID:              id,
		SourcePageID:    src,
		TargetPageID:    dst,
		InteractionType: flowgraph.InteractionClick,
		PriorityScore:   score,
	}
}

func critical(id, src, dst string, score int) flowgraph.UserFlow {
	f := flow(id, src, dst, score)
	f.CriticalJourney = true
	return f
}

func graph(t *testing.T, flows ...flowgraph.UserFlow) *flowgraph.Store {
	t.Helper()
	s := flowgraph.NewStore()
	for _, f := range flows {
		if _, err := s.SaveFlow(f); err != nil {
			t.Fatalf("save %s: %v", f.ID, err)
		}
	}
	return s
}

func ids(journeys []Journey) [][]string {
	out := make([][]string, len(journeys))
	for i, j := range journeys {
		out[i] = j.FlowIDs()
	}
	return out
}

func TestFindFlowPaths_Diamond(t *testing.T) {
	e := New(graph(t,
		flow("ab", "A", "B", 50),
		flow("bc", "B", "C", 50),
		flow("ac", "A", "C", 50),
	), Config{}, nil)

	paths, err := e.FindFlowPaths("A", "C", 3)
	if err != nil {
		t.Fatal(err)
	}
	got := fmt.Sprint(ids(paths))
	if got != "[[ac] [ab bc]]" {
		t.Fatalf("maxDepth 3: got %s", got)
	}
	if want := []string{"A", "B", "C"}; !slices.Equal(paths[1].Pages, want) {
		t.Errorf("pages: got %v, want %v", paths[1].Pages, want)
	}

	paths, err = e.FindFlowPaths("A", "C", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(ids(paths)); got != "[[ac]]" {
		t.Fatalf("maxDepth 1: got %s", got)
	}
}

func TestFindFlowPaths_Edges(t *testing.T) {
	e := New(graph(t, flow("ab", "A", "B", 50)), Config{}, nil)

	if _, err := e.FindFlowPaths("A", "B", 0); !errors.Is(err, ErrInvalidDepth) {
		t.Fatalf("maxDepth 0: got %v, want ErrInvalidDepth", err)
	}
	if paths, err := e.FindFlowPaths("A", "A", 5); err != nil || len(paths) != 0 {
		t.Fatalf("source == target: got %v, %v", paths, err)
	}
	if paths, _ := e.FindFlowPaths("B", "A", 5); len(paths) != 0 {
		t.Fatalf("no route: got %v", ids(paths))
	}
	if paths, _ := e.FindFlowPaths("A", "unknown", 5); len(paths) != 0 {
		t.Fatalf("unknown target: got %v", ids(paths))
	}
	// Depths above the limit are clamped, not rejected.
	if paths, err := e.FindFlowPaths("A", "B", 1_000_000); err != nil || len(paths) != 1 {
		t.Fatalf("huge depth: got %v, %v", ids(paths), err)
	}
}

func TestFindFlowPaths_CycleTerminates(t *testing.T) {
	e := New(graph(t,
		flow("ab", "A", "B", 50),
		flow("ba", "B", "A", 50),
		flow("bb", "B", "B", 50),
		flow("bc", "B", "C", 50),
	), Config{}, nil)

	paths, err := e.FindFlowPaths("A", "C", 50)
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(ids(paths)); got != "[[ab bc]]" {
		t.Fatalf("got %s", got)
	}
}

func TestFindFlowPaths_SimplePathsOnly(t *testing.T) {
	// Complete graph on five pages.
	pages := []string{"P0", "P1", "P2", "P3", "P4"}
	var flows []flowgraph.UserFlow
	for _, a := range pages {
		for _, b := range pages {
			if a != b {
				flows = append(flows, flow(a+"-"+b, a, b, 50))
			}
		}
	}
	e := New(graph(t, flows...), Config{}, nil)

	paths, err := e.FindFlowPaths("P0", "P4", 10)
	if err != nil {
		t.Fatal(err)
	}
	// 1 + 3 + 3*2 + 3*2*1 simple paths.
	if len(paths) != 16 {
		t.Fatalf("paths: got %d, want 16", len(paths))
	}
	for _, p := range paths {
		seen := map[string]bool{}
		for _, page := range p.Pages {
			if seen[page] {
				t.Fatalf("path %v revisits %s", p.FlowIDs(), page)
			}
			seen[page] = true
		}
	}
	for i := 1; i < len(paths); i++ {
		if paths[i-1].Len() > paths[i].Len() {
			t.Fatal("paths not ordered by length")
		}
	}
}

func TestFindFlowPaths_Truncated(t *testing.T) {
	e := New(graph(t,
		flow("ab", "A", "B", 50),
		flow("bc", "B", "C", 50),
		flow("ac", "A", "C", 50),
	), Config{MaxExploredPaths: 1}, nil)

	res, err := e.FindFlowPathsResult("A", "C", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated || len(res.Paths) != 1 {
		t.Fatalf("got %d paths, truncated=%v", len(res.Paths), res.Truncated)
	}
}

func TestFindCriticalJourneys_AuthSeed(t *testing.T) {
	login := critical("login", "L", "D", 90)
	login.InteractionType = flowgraph.InteractionFormSubmit
	login.FormSubmission = true
	login.Description = "Submit login form"

	e := New(graph(t,
		flow("home-l", "H", "L", 40),
		login,
		flow("d-s", "D", "S", 80),
		flow("s-p", "S", "P", 75),
		flow("d-x", "D", "X", 10),
	), Config{}, nil)

	got := fmt.Sprint(ids(e.FindCriticalJourneys()))
	if got != "[[login d-s s-p]]" {
		t.Fatalf("got %s", got)
	}
}

func TestFindCriticalJourneys_EntryFallbackAndCycle(t *testing.T) {
	e := New(graph(t,
		critical("ea", "E", "A", 80),
		critical("ab", "A", "B", 80),
		critical("ba", "B", "A", 80),
	), Config{}, nil)

	got := fmt.Sprint(ids(e.FindCriticalJourneys()))
	if got != "[[ea ab]]" {
		t.Fatalf("got %s", got)
	}
}

func TestFindCriticalJourneys_MaxDepth(t *testing.T) {
	var flows []flowgraph.UserFlow
	for i := 0; i < 8; i++ {
		flows = append(flows, critical(fmt.Sprintf("f%d", i), fmt.Sprintf("P%d", i), fmt.Sprintf("P%d", i+1), 80))
	}
	e := New(graph(t, flows...), Config{}, nil)

	journeys := e.FindCriticalJourneys()
	if len(journeys) != 1 {
		t.Fatalf("journeys: got %v", ids(journeys))
	}
	if got := fmt.Sprint(journeys[0].FlowIDs()); got != "[f0 f1 f2 f3 f4]" {
		t.Fatalf("got %s", got)
	}
}

func TestFindCriticalJourneys_Dedupe(t *testing.T) {
	ab := critical("ab", "A", "B", 90)
	ab.InteractionType = flowgraph.InteractionFormSubmit
	ab.FormSubmission = true
	ab.Description = "sign_in"
	flows := []flowgraph.UserFlow{critical("ea", "E", "A", 80), ab, critical("bc", "B", "C", 80)}

	on := New(graph(t, flows...), Config{SeedPolicy: SeedBoth}, nil)
	if got := fmt.Sprint(ids(on.FindCriticalJourneys())); got != "[[ea ab bc]]" {
		t.Fatalf("dedupe on: got %s", got)
	}

	off := false
	raw := New(graph(t, flows...), Config{SeedPolicy: SeedBoth, Dedupe: &off}, nil)
	if got := fmt.Sprint(ids(raw.FindCriticalJourneys())); got != "[[ab bc] [ea ab bc]]" {
		t.Fatalf("dedupe off: got %s", got)
	}
}

func TestFindCriticalJourneys_SeedPolicies(t *testing.T) {
	flows := []flowgraph.UserFlow{critical("ea", "E", "A", 80), critical("ab", "A", "B", 80)}

	if got := New(graph(t, flows...), Config{SeedPolicy: SeedAuthOnly}, nil).FindCriticalJourneys(); len(got) != 0 {
		t.Fatalf("auth_only without auth flows: got %v", ids(got))
	}
	if got := New(graph(t, flows...), Config{SeedPolicy: SeedEntryOnly}, nil).FindCriticalJourneys(); len(got) != 1 {
		t.Fatalf("entry_only: got %v", ids(got))
	}
	if got := New(graph(t), Config{}, nil).FindCriticalJourneys(); len(got) != 0 {
		t.Fatalf("empty graph: got %v", ids(got))
	}
}

func TestFindCriticalJourneys_AlwaysTwoEdges(t *testing.T) {
	// Dense graph with cycles and mixed priorities.
	var flows []flowgraph.UserFlow
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			if i == j {
				continue
			}
			score := 40 + (i*7+j*13)%60
			flows = append(flows, flow(fmt.Sprintf("f%d%d", i, j), fmt.Sprintf("P%d", i), fmt.Sprintf("P%d", j), score))
		}
	}
	flows = append(flows, critical("entry", "start", "P0", 90))
	e := New(graph(t, flows...), Config{}, nil)

	journeys := e.FindCriticalJourneys()
	if len(journeys) == 0 {
		t.Fatal("expected journeys")
	}
	for _, j := range journeys {
		if j.Len() < 2 || j.Len() > 5 {
			t.Fatalf("journey %v has %d flows", j.FlowIDs(), j.Len())
		}
		for k := 1; k < len(j.Flows); k++ {
			if j.Flows[k-1].TargetPageID != j.Flows[k].SourcePageID {
				t.Fatalf("journey %v is not chained", j.FlowIDs())
			}
		}
	}
}

func TestEngine_ConcurrentWriters(t *testing.T) {
	s := graph(t, critical("ea", "E", "A", 80), critical("ab", "A", "B", 80))
	e := New(s, Config{}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			s.SaveFlow(critical(fmt.Sprintf("x%d", i), fmt.Sprintf("B%d", i%5), fmt.Sprintf("B%d", (i+1)%5), 80))
			s.SaveFlow(critical(fmt.Sprintf("y%d", i), "B", fmt.Sprintf("B%d", i%5), 80))
		}
	}()
	for i := 0; i < 50; i++ {
		for _, j := range e.FindCriticalJourneys() {
			if j.Len() < 2 {
				t.Fatalf("journey %v too short", j.FlowIDs())
			}
		}
		if _, err := e.FindFlowPaths("E", "B3", 6); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}

func TestConfig_Defaults(t *testing.T) {
	c := DefaultConfig()
	if c.MaxDepthLimit != 50 || c.MaxExploredPaths != 10000 || c.MaxJourneyDepth != 5 || *c.PriorityThreshold != 70 {
		t.Fatalf("defaults: %+v", c)
	}
	if c.SeedPolicy != SeedAuthThenEntry || !*c.Dedupe || len(c.AuthKeywords) != len(DefaultAuthKeywords) {
		t.Fatalf("defaults: %+v", c)
	}
	bad := Config{SeedPolicy: "whatever"}
	bad.defaults()
	if bad.SeedPolicy != SeedAuthThenEntry {
		t.Fatalf("unknown policy: got %q", bad.SeedPolicy)
	}
}

func TestFindCriticalJourneys_ZeroThreshold(t *testing.T) {
	flows := []flowgraph.UserFlow{
		flow("ea", "E", "A", 10),
		flow("ab", "A", "B", 5),
	}
	if got := New(graph(t, flows...), Config{}, nil).FindCriticalJourneys(); len(got) != 0 {
		t.Fatalf("default threshold: got %v", ids(got))
	}

	zero := 0
	e := New(graph(t, flows...), Config{PriorityThreshold: &zero}, nil)
	if *e.Config().PriorityThreshold != 0 {
		t.Fatalf("threshold: got %d, want 0", *e.Config().PriorityThreshold)
	}
	if got := fmt.Sprint(ids(e.FindCriticalJourneys())); got != "[[ea ab]]" {
		t.Fatalf("zero threshold: got %s", got)
	}
}

func seq(flowIDs ...string) Journey {
	flows := make([]flowgraph.UserFlow, len(flowIDs))
	for i, id := range flowIDs {
		flows[i] = flow(id, fmt.Sprintf("P%d", i), fmt.Sprintf("P%d", i+1), 80)
	}
	return newJourney(flows)
}

func TestDedupe_Containment(t *testing.T) {
	in := []Journey{
		seq("b", "c"),
		seq("a", "b", "c", "d"),
		seq("a", "b", "c", "d"),
		seq("a", "bc"),
		seq("c", "d", "e"),
		seq("d", "a"),
	}
	out, windows := dedupe(in)
	got := fmt.Sprint(ids(out))
	if got != "[[a b c d] [a bc] [c d e] [d a]]" {
		t.Fatalf("got %s", got)
	}
	// 1 + 6 + 6 + 1 + 3 + 1 proper windows.
	if windows != 18 {
		t.Errorf("windows: got %d, want 18", windows)
	}
}

func TestDedupe_LinearInJourneys(t *testing.T) {
	const n, length = 10000, 5
	in := make([]Journey, n)
	for i := range in {
		flowIDs := make([]string, length)
		for k := range flowIDs {
			flowIDs[k] = fmt.Sprintf("f%d-%d", i, k)
		}
		in[i] = seq(flowIDs...)
	}
	// Every other journey also appears as a suffix of length 3.
	for i := 0; i < n; i += 2 {
		in = append(in, seq(in[i].FlowIDs()[2:]...))
	}

	out, windows := dedupe(in)
	if len(out) != n {
		t.Fatalf("kept %d journeys, want %d", len(out), n)
	}
	// Each journey of length L contributes L(L-1)/2 windows, independent of
	// how many other journeys there are.
	want := n*length*(length-1)/2 + (n/2)*3*2/2
	if windows != want {
		t.Fatalf("windows: got %d, want %d", windows, want)
	}
}
