package main

import (
	"bytes"
	"testing"

	"risk-view-engine/internal/config"
	"risk-view-engine/internal/transport"
)

func TestRunOnceWithFixtures(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"run", "--once", "--fixtures", "--metrics-addr", "127.0.0.1:0", "--log-level", "error"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("engine run: %v", err)
	}
}

func TestBuildExecutors_NoCapacity(t *testing.T) {
	if _, err := buildExecutors(config.Default(), []transport.Invoker(nil), nil, nil); err == nil {
		t.Fatal("expected error without invokers")
	}
}

func TestMigrate_RequiresDSN(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"migrate"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without DSNs")
	}
}
