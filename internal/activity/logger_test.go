package activity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/spices/internal/testutil"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cinnamon", "harvester.log")
	l := New(path, testutil.Logger())
	l.Log("hello")
	l.Close()

	if got := readLines(t, path); len(got) != 1 || got[0] != "hello" {
		t.Errorf("lines = %q", got)
	}
}

func TestOrderAcrossGoroutines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.log")
	l := New(path, testutil.Logger())

	done := make(chan struct{})
	go func() {
		l.Log("A")
		close(done)
	}()
	<-done
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Log("B")
	}()
	wg.Wait()
	l.Close()

	got := readLines(t, path)
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("lines = %q, want [A B]", got)
	}
}

func TestManyLinesStayFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.log")
	l := New(path, testutil.Logger())
	for i := 0; i < 500; i++ {
		l.Log(fmt.Sprintf("line %03d", i))
	}
	l.Flush()

	got := readLines(t, path)
	if len(got) != 500 {
		t.Fatalf("got %d lines", len(got))
	}
	for i, line := range got {
		if line != fmt.Sprintf("line %03d", i) {
			t.Fatalf("line %d = %q", i, line)
		}
	}
	l.Close()
}

func TestAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.log")
	_ = os.WriteFile(path, []byte("old\n"), 0o644)
	l := New(path, testutil.Logger())
	l.Log("new")
	l.Close()
	if got := readLines(t, path); len(got) != 2 || got[0] != "old" || got[1] != "new" {
		t.Errorf("lines = %q", got)
	}
}

func TestLogAfterCloseIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.log")
	l := New(path, testutil.Logger())
	l.Close()
	l.Log("late")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("line written after close")
	}
}

func TestEntryFormat(t *testing.T) {
	e := Entry{
		Time:       time.Date(2024, 3, 1, 10, 4, 5, 0, time.UTC),
		Type:       "applet",
		Action:     "install",
		UUID:       "clock@x",
		NewVersion: "2024.02.28",
	}
	want := "2024-03-01 10:04:05 applet install clock@x none 2024.02.28"
	if e.String() != want {
		t.Errorf("String = %q, want %q", e.String(), want)
	}
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.log")
	l := New(path, testutil.Logger())
	defer l.Close()
	if lines, err := l.Tail(5); err != nil || len(lines) != 0 {
		t.Fatalf("Tail on missing file = %v, %v", lines, err)
	}
	for _, s := range []string{"1", "2", "3"} {
		l.Log(s)
	}
	l.Flush()
	lines, err := l.Tail(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "2" || lines[1] != "3" {
		t.Errorf("Tail = %q", lines)
	}
}
