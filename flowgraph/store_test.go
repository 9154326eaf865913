package flowgraph

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hazyhaar/flowkeeper/idgen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(WithIDGenerator(idgen.Sequence("f")))
}

func contains(flows []UserFlow, id string) bool {
	for _, f := range flows {
		if f.ID == id {
			return true
		}
	}
	return false
}

func TestSaveFlow_IndexesAndDelete(t *testing.T) {
	s := testStore(t)

	f, err := s.SaveFlow(UserFlow{SourcePageID: "A", TargetPageID: "B", InteractionType: InteractionClick})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if f.ID != "f1" {
		t.Errorf("ID: got %q, want f1", f.ID)
	}
	if f.PriorityScore == 0 {
		t.Error("PriorityScore should be computed on first save")
	}
	if f.DiscoveredAt.IsZero() {
		t.Error("DiscoveredAt should default to now")
	}

	if !contains(s.GetFlowsFromPage("A"), f.ID) {
		t.Error("flow missing from source index")
	}
	if !contains(s.GetFlowsToPage("B"), f.ID) {
		t.Error("flow missing from target index")
	}
	if got, ok := s.GetFlow(f.ID); !ok || got != f {
		t.Errorf("GetFlow: got %+v ok=%v", got, ok)
	}

	s.DeleteFlow(f.ID)
	if contains(s.GetFlowsFromPage("A"), f.ID) || contains(s.GetFlowsToPage("B"), f.ID) || contains(s.GetAllFlows(), f.ID) {
		t.Error("flow still present after delete")
	}
	s.DeleteFlow(f.ID) // no-op
	s.DeleteFlow("never-existed")
}

func TestSaveFlow_Validation(t *testing.T) {
	s := testStore(t)
	cases := []UserFlow{
		{TargetPageID: "B"},
		{SourcePageID: "A"},
		{SourcePageID: "  ", TargetPageID: "B"},
	}
	for _, f := range cases {
		if _, err := s.SaveFlow(f); !errors.Is(err, ErrInvalidFlow) {
			t.Errorf("SaveFlow(%+v): got %v, want ErrInvalidFlow", f, err)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("malformed flow persisted: Len = %d", s.Len())
	}
}

func TestSaveFlow_ReplaceMovesIndices(t *testing.T) {
	s := testStore(t)
	f, _ := s.SaveFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B"})

	f.TargetPageID = "C"
	if _, err := s.SaveFlow(f); err != nil {
		t.Fatal(err)
	}
	if contains(s.GetFlowsToPage("B"), "x") {
		t.Error("stale target index entry")
	}
	if !contains(s.GetFlowsToPage("C"), "x") {
		t.Error("missing new target index entry")
	}
	if s.Len() != 1 {
		t.Errorf("Len: got %d, want 1", s.Len())
	}
}

func TestSaveFlow_PriorityComputedOnce(t *testing.T) {
	s := testStore(t)
	f, _ := s.SaveFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B"})
	first := f.PriorityScore

	if _, err := s.SetPriority("x", 88); err != nil {
		t.Fatal(err)
	}
	// Re-saving without a score keeps the explicit one.
	again, _ := s.SaveFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B", CriticalJourney: true})
	if again.PriorityScore != 88 {
		t.Fatalf("PriorityScore: got %d, want 88 (first was %d)", again.PriorityScore, first)
	}

	v, err := s.SetVerified("x", true)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Verified || v.PriorityScore != 88 {
		t.Fatalf("SetVerified: got %+v", v)
	}

	if _, err := s.SetVerified("nope", true); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("SetVerified unknown: got %v", err)
	}
	if got, _ := s.SetPriority("x", 400); got.PriorityScore != 100 {
		t.Fatalf("SetPriority clamp: got %d", got.PriorityScore)
	}
}

func TestSaveFlow_KeepsExplicitZeroPriority(t *testing.T) {
	s := testStore(t)
	f := UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B", InteractionType: InteractionClick}
	if _, err := s.SaveFlow(f); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetPriority("x", 0); err != nil {
		t.Fatal(err)
	}
	again, err := s.SaveFlow(f)
	if err != nil {
		t.Fatal(err)
	}
	if again.PriorityScore != 0 {
		t.Fatalf("explicit zero priority rescored on re-save: got %d", again.PriorityScore)
	}
	if got, _ := s.GetFlow("x"); got.PriorityScore != 0 {
		t.Fatalf("stored priority: got %d, want 0", got.PriorityScore)
	}
}

func TestLoadFlow_NoScoring(t *testing.T) {
	s := testStore(t)
	f, err := s.LoadFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B", CriticalJourney: true})
	if err != nil {
		t.Fatal(err)
	}
	if f.PriorityScore != 0 {
		t.Fatalf("LoadFlow scored the flow: got %d", f.PriorityScore)
	}
	if !contains(s.GetFlowsFromPage("A"), "x") {
		t.Error("loaded flow missing from source index")
	}
	if _, err := s.LoadFlow(UserFlow{ID: "y", SourcePageID: "A"}); !errors.Is(err, ErrInvalidFlow) {
		t.Fatalf("got %v, want ErrInvalidFlow", err)
	}
}

func TestUpsertFlow_MergeSeesLatest(t *testing.T) {
	s := testStore(t)
	keep := func(old, f UserFlow) UserFlow {
		f.Verified = old.Verified
		f.DiscoveredAt = old.DiscoveredAt
		return f
	}
	first, _ := s.UpsertFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B"}, keep)
	if _, err := s.SetVerified("x", true); err != nil {
		t.Fatal(err)
	}

	got, err := s.UpsertFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B", Description: "re-crawl"}, keep)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Verified || got.Description != "re-crawl" || !got.DiscoveredAt.Equal(first.DiscoveredAt) {
		t.Fatalf("merge: got %+v", got)
	}

	// A merge cannot rename the flow.
	renamed, _ := s.UpsertFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B"}, func(_, f UserFlow) UserFlow {
		f.ID = "other"
		return f
	})
	if renamed.ID != "x" || s.Len() != 1 {
		t.Fatalf("merge renamed flow: %+v, Len %d", renamed, s.Len())
	}
}

func TestUpsertFlow_ConcurrentVerifyNotLost(t *testing.T) {
	s := testStore(t)
	keep := func(old, f UserFlow) UserFlow {
		f.Verified = old.Verified
		return f
	}
	s.UpsertFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B"}, keep)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 500; i++ {
				s.UpsertFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B"}, keep)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		s.SetVerified("x", true)
	}()
	close(start)
	wg.Wait()

	if got, _ := s.GetFlow("x"); !got.Verified {
		t.Fatal("verification lost to a concurrent re-save")
	}
}

func TestUpdate_KeepsIdentity(t *testing.T) {
	s := testStore(t)
	s.SaveFlow(UserFlow{ID: "x", SourcePageID: "A", TargetPageID: "B"})
	got, err := s.Update("x", func(f *UserFlow) {
		f.Verified = true
		f.PriorityScore = -3
		f.TargetPageID = "Z"
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Verified || got.PriorityScore != 0 || got.TargetPageID != "B" {
		t.Fatalf("Update: got %+v", got)
	}
	if !contains(s.GetFlowsToPage("B"), "x") {
		t.Error("target index no longer matches stored flow")
	}
	if _, err := s.Update("nope", func(*UserFlow) {}); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("got %v, want ErrFlowNotFound", err)
	}
}

func TestFindImportantFlows(t *testing.T) {
	s := testStore(t)
	s.SaveFlow(UserFlow{ID: "low", SourcePageID: "A", TargetPageID: "B", PriorityScore: 10})
	s.SaveFlow(UserFlow{ID: "hi-b", SourcePageID: "A", TargetPageID: "C", PriorityScore: 90})
	s.SaveFlow(UserFlow{ID: "hi-a", SourcePageID: "B", TargetPageID: "C", PriorityScore: 90})
	s.SaveFlow(UserFlow{ID: "mid", SourcePageID: "C", TargetPageID: "D", PriorityScore: 50})

	got := s.FindImportantFlows(3)
	want := []string{"hi-a", "hi-b", "mid"}
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("[%d]: got %q, want %q", i, got[i].ID, want[i])
		}
	}
	if all := s.FindImportantFlows(0); len(all) != 4 {
		t.Errorf("limit 0: got %d flows, want 4", len(all))
	}
}

func TestPages(t *testing.T) {
	s := testStore(t)
	if _, err := s.SavePage(Page{}); !errors.Is(err, ErrMissingPageID) {
		t.Fatalf("got %v, want ErrMissingPageID", err)
	}
	ids := []string{"fp2", "fp1", "fp2"}
	p, err := s.SavePage(Page{ID: "home", URL: "https://app.test/", FingerprintIDs: ids})
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(p.FingerprintIDs) != "[fp1 fp2]" {
		t.Errorf("FingerprintIDs: got %v", p.FingerprintIDs)
	}
	ids[0] = "mutated"
	got, ok := s.GetPage("home")
	if !ok || fmt.Sprint(got.FingerprintIDs) != "[fp1 fp2]" {
		t.Errorf("GetPage: got %+v", got)
	}
	got.FingerprintIDs[0] = "mutated"
	again, _ := s.GetPage("home")
	if again.FingerprintIDs[0] != "fp1" {
		t.Error("returned page shares memory with the store")
	}
	if len(s.GetAllPages()) != 1 {
		t.Error("GetAllPages: want 1 page")
	}
	s.DeletePage("home")
	if _, ok := s.GetPage("home"); ok {
		t.Error("page still present after delete")
	}
}

func TestStore_ConcurrentConsistency(t *testing.T) {
	s := testStore(t)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers check that every indexed flow is in the primary map.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				for page, ids := range snap.BySource {
					for _, id := range ids {
						f, ok := snap.Flows[id]
						if !ok || f.SourcePageID != page {
							t.Errorf("index entry %s/%s not in primary map", page, id)
							return
						}
					}
				}
				for id, f := range snap.Flows {
					if !containsID(snap.ByTarget[f.TargetPageID], id) {
						t.Errorf("flow %s missing from target index", id)
						return
					}
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				s.SaveFlow(UserFlow{ID: id, SourcePageID: fmt.Sprintf("p%d", i%7), TargetPageID: fmt.Sprintf("p%d", (i+1)%7)})
				if i%3 == 0 {
					s.DeleteFlow(id)
				}
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	wg.Wait()
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
