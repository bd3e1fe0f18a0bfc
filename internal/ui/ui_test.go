package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTableRender(t *testing.T) {
	t.Parallel()

	tbl := NewTable(Column{Header: "TAG"}, Column{Header: "SIZE", Align: AlignRight}, Column{Header: "ID", MaxWidth: 7})
	tbl.AddRow("app:dev", "12", "sha256:abcdef0123")
	tbl.AddRow("a", "1234")

	var out bytes.Buffer
	if err := tbl.Render(&out); err != nil {
		t.Fatal(err)
	}

	want := "" +
		"TAG       SIZE   ID\n" +
		"app:dev     12   sha…123\n" +
		"a         1234   \n"
	if out.String() != want {
		t.Fatalf("unexpected table:\n%q\nwant:\n%q", out.String(), want)
	}
}

func TestTruncateMiddle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghij", 0, "abcdefghij"},
		{"abcdefghij", 5, "ab…ij"},
		{"abcdefghij", 2, "ab"},
	}
	for _, c := range cases {
		if got := truncateMiddle(c.in, c.max); got != c.want {
			t.Errorf("truncateMiddle(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	var out, full bytes.Buffer
	l := New(Options{Out: &out, LogLevel: LogLevelWarn})
	l.Debug("hidden debug")
	l.Info("hidden info")
	l.Warn("shown warn")
	if err := l.SetFullLogWriter(&full); err != nil {
		t.Fatal(err)
	}
	l.InfoSilent("only in file")

	if strings.Contains(out.String(), "hidden") {
		t.Fatalf("stdout leaked lower levels: %q", out.String())
	}
	if !strings.Contains(out.String(), "shown warn") {
		t.Fatalf("stdout missing warning: %q", out.String())
	}
	for _, s := range []string{"hidden debug", "hidden info", "shown warn", "only in file"} {
		if !strings.Contains(full.String(), s) {
			t.Errorf("full log missing %q: %q", s, full.String())
		}
	}
	if err := l.SetFullLogWriter(&full); err == nil {
		t.Fatal("expected error when full log writer is set twice")
	}
}

func TestTailWithoutBoxPrintsLines(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	l := New(Options{Out: &out})
	tail := l.NewTail("build")
	tail.Write([]byte("step 1\r\nstep"))
	tail.Write([]byte(" 2\n"))
	tail.Close()

	if out.String() != "step 1\nstep 2\n" {
		t.Fatalf("unexpected tail output: %q", out.String())
	}
}

func TestTimestampWriterPrefixesEachLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	tw := NewTimestampWriter(&out)
	tw.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	n, err := tw.Write([]byte("a\nb\n"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	want := "[2024-01-02T03:04:05.000] a\n[2024-01-02T03:04:05.000] b\n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}
