package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_Fields(t *testing.T) {
	e, err := Parse([]byte(`{"uuid":"clock@x","name":"Clock","description":"Time","last-edited":1500,"max-instances":1}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.UUID != "clock@x" || e.Name != "Clock" || e.Description != "Time" {
		t.Errorf("entry = %+v", e)
	}
	if !e.HasLastEdited || e.LastEdited != 1500 {
		t.Errorf("last-edited = %d (%v)", e.LastEdited, e.HasLastEdited)
	}
	if _, ok := e.Raw["max-instances"]; !ok {
		t.Error("unknown field dropped from Raw")
	}
}

func TestParse_LastEditedAsString(t *testing.T) {
	e, err := Parse([]byte(`{"uuid":"a","last-edited":"1600"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !e.HasLastEdited || e.LastEdited != 1600 {
		t.Errorf("last-edited = %d (%v)", e.LastEdited, e.HasLastEdited)
	}
}

func TestParse_NoLastEdited(t *testing.T) {
	e, err := Parse([]byte(`{"uuid":"a"}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.HasLastEdited {
		t.Error("HasLastEdited = true without the field")
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "{", "[]", "null"} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestSetLastEditedKeepsFields(t *testing.T) {
	p := filepath.Join(t.TempDir(), FileName)
	_ = os.WriteFile(p, []byte(`{"uuid":"clock@x","name":"Clock","big":12345678901234567}`), 0o644)

	if err := SetLastEdited(p, "clock@x", 2000); err != nil {
		t.Fatalf("SetLastEdited: %v", err)
	}
	e, err := Read(p)
	if err != nil {
		t.Fatal(err)
	}
	if e.LastEdited != 2000 || e.Name != "Clock" {
		t.Errorf("entry = %+v", e)
	}
	data, _ := os.ReadFile(p)
	if !strings.Contains(string(data), "12345678901234567") {
		t.Errorf("large number lost precision: %s", data)
	}
}

func TestSetLastEditedCreatesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cinnamon", FileName)
	if err := SetLastEdited(p, "theme-x", 42); err != nil {
		t.Fatalf("SetLastEdited: %v", err)
	}
	e, err := Read(p)
	if err != nil {
		t.Fatal(err)
	}
	if e.UUID != "theme-x" || e.LastEdited != 42 {
		t.Errorf("entry = %+v", e)
	}
}
