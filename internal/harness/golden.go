package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares its broadcast trace
// against testdata/golden/{scenario.Name}.golden, one trace line per
// envelope. Regenerate with:
//
//	go test ./internal/harness -update
//
// Assertion failures and trace mismatches both fail the test.
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}

	for _, f := range CheckAssertions(scenario, result) {
		t.Errorf("scenario %s: %s", scenario.Name, f)
	}

	var buf bytes.Buffer
	for _, env := range result.Envelopes {
		line, err := env.MarshalTrace()
		if err != nil {
			t.Fatalf("scenario %s: %v", scenario.Name, err)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, scenario.Name, buf.Bytes())
}
