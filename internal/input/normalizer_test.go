package input

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nidhogg/nuka-tutor/internal/intent"
)

func TestNormalizeCheckInForm(t *testing.T) {
	n := Normalize("", Form, "daily-check-in", map[string]any{
		"timeAvailable": "focused",
		"energyLevel":   75,
	})
	if n.Intent != intent.CheckIn {
		t.Fatalf("intent = %s", n.Intent)
	}
	if !n.DataComplete {
		t.Fatalf("expected complete: %+v", n)
	}
	if len(n.MissingFields) != 0 {
		t.Fatalf("missing = %v", n.MissingFields)
	}
}

func TestNormalizeVoiceIsPending(t *testing.T) {
	prefill := map[string]any{"energyLevel": 60}
	n := Normalize("I have about half an hour", Voice, "", prefill)
	if n.Intent != intent.PendingExtraction || n.DataComplete {
		t.Fatalf("got %+v", n)
	}
	if n.RawInput != "I have about half an hour" || n.Data["energyLevel"] != 60 {
		t.Fatalf("raw text or prefill not carried: %+v", n)
	}
	n.Data["energyLevel"] = 10
	if prefill["energyLevel"] != 60 {
		t.Fatal("normalize aliased caller data")
	}
}

func TestMergeWithPendingIsRightBiased(t *testing.T) {
	step := func(pending map[string]any, data map[string]any) map[string]any {
		n := Normalize("", Chat, "", nil).WithExtraction(intent.Extraction{Intent: intent.General, Data: data})
		return MergeWithPending(n, pending, intent.General).Data
	}

	acc := step(nil, map[string]any{"a": 1})
	acc = step(acc, map[string]any{"b": 2})
	acc = step(acc, map[string]any{"a": 3})

	want := map[string]any{"a": 3, "b": 2}
	if diff := cmp.Diff(want, acc); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeKeepsCarriedIntentWhenUnresolved(t *testing.T) {
	pending := map[string]any{"difficulty": "hard"}

	for _, in := range []intent.Intent{intent.PendingExtraction, intent.Unknown} {
		n := Normalize("negotiation", Voice, "", map[string]any{"scenario_type": "negotiation"})
		n.Intent = in
		merged := MergeWithPending(n, pending, intent.PracticeSetup)
		if merged.Intent != intent.PracticeSetup {
			t.Fatalf("%s: intent = %s", in, merged.Intent)
		}
		if !merged.DataComplete {
			t.Fatalf("%s: expected complete %+v", in, merged)
		}
	}
}

func TestMergeRevalidatesAgainstNewIntent(t *testing.T) {
	n := Normalize("", Form, "outcome-discovery", map[string]any{"goal": "negotiate a raise"})
	merged := MergeWithPending(n, map[string]any{"difficulty": "hard"}, intent.PracticeSetup)
	if merged.Intent != intent.OutcomeDiscovery || !merged.DataComplete {
		t.Fatalf("got %+v", merged)
	}
}

func TestParseModality(t *testing.T) {
	if m, err := ParseModality("VOICE"); err != nil || m != Voice {
		t.Fatalf("got %q %v", m, err)
	}
	if m, _ := ParseModality(""); m != Chat {
		t.Fatalf("empty modality = %q", m)
	}
	if _, err := ParseModality("telepathy"); err == nil {
		t.Fatal("expected error")
	}
}
