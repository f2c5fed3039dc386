package main

import (
	"strings"
	"testing"
)

func TestBuildRootCmdSubcommands(t *testing.T) {
	root := buildRootCmd()

	want := map[string]bool{
		"serve":   false,
		"setup":   false,
		"service": false,
		"slack":   false,
		"admin":   false,
	}
	for _, sub := range root.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestServiceSubcommands(t *testing.T) {
	root := buildRootCmd()
	svc, _, err := root.Find([]string{"service"})
	if err != nil {
		t.Fatalf("find service: %v", err)
	}
	got := map[string]bool{}
	for _, sub := range svc.Commands() {
		got[sub.Name()] = true
	}
	for _, name := range []string{"install", "uninstall", "start", "stop", "restart", "status", "logs"} {
		if !got[name] {
			t.Errorf("service missing %q", name)
		}
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := hashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	salt, digest, ok := strings.Cut(hash, "$")
	if !ok {
		t.Fatalf("hash %q missing separator", hash)
	}
	if len(salt) != 32 || len(digest) != 64 {
		t.Errorf("salt/digest lengths = %d/%d, want 32/64", len(salt), len(digest))
	}

	again, err := hashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if again == hash {
		t.Error("two hashes of the same password should differ by salt")
	}
}
