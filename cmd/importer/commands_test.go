package main

import "testing"

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"migrate", "ingest", "confirm", "execute", "revert", "show", "list", "report"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %s not registered: %v", name, err)
		}
	}
}

func TestParseHelpers(t *testing.T) {
	if _, err := parseBatchID("not-a-uuid"); err == nil {
		t.Fatalf("expected an error for an invalid batch id")
	}
	id, err := parseBatchID(" 3b1f2c4d-0000-4000-8000-000000000001 ")
	if err != nil || id.String() != "3b1f2c4d-0000-4000-8000-000000000001" {
		t.Fatalf("unexpected id %v %v", id, err)
	}

	inst, err := parseInstitution("")
	if err != nil || inst.Valid {
		t.Fatalf("empty institution should be the global scope, got %+v %v", inst, err)
	}
	if _, err := parseInstitution("x"); err == nil {
		t.Fatalf("expected an error for an invalid institution")
	}
}
