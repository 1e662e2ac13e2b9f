package main

import (
	"testing"

	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
)

func TestSnapshotFormat(t *testing.T) {
	testCases := []struct {
		explicit string
		path     string
		expected string
	}{
		{explicit: "", path: "backup.yaml", expected: replication.FormatYAML},
		{explicit: "", path: "backup.YML", expected: replication.FormatYAML},
		{explicit: "", path: "backup.json", expected: replication.FormatJSON},
		{explicit: "", path: "-", expected: replication.FormatJSON},
		{explicit: "YAML", path: "backup.json", expected: replication.FormatYAML},
	}
	for _, testCase := range testCases {
		if actual := snapshotFormat(testCase.explicit, testCase.path); actual != testCase.expected {
			t.Fatalf("snapshotFormat(%q, %q) = %q, expected %q", testCase.explicit, testCase.path, actual, testCase.expected)
		}
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "agent", "sync", "status", "book", "product", "export", "import", "token"} {
		found := false
		for _, command := range root.Commands() {
			if command.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected %s command to be registered", name)
		}
	}
}

func TestOptionalID(t *testing.T) {
	if optionalID(0) != nil {
		t.Fatalf("expected zero id to be absent")
	}
	if value := optionalID(7); value == nil || *value != 7 {
		t.Fatalf("expected id 7, got %v", value)
	}
}
