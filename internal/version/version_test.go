package version

import "testing"

func TestHumanReadable(t *testing.T) {
	previousVersion := Version
	previousCommit := GitCommit
	t.Cleanup(func() {
		Version = previousVersion
		GitCommit = previousCommit
	})

	Version = "dev"
	if got := HumanReadable("snapwatchd"); got != "snapwatchd dev" {
		t.Fatalf("HumanReadable = %q", got)
	}

	Version = "1.2.3"
	GitCommit = ""
	if got := HumanReadable("snapwatchd"); got != "snapwatchd version 1.2.3" {
		t.Fatalf("HumanReadable = %q", got)
	}

	GitCommit = "abc123"
	if got := HumanReadable("snapwatchd"); got != "snapwatchd version 1.2.3 (abc123)" {
		t.Fatalf("HumanReadable = %q", got)
	}
}
