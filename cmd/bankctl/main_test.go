package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/bankwire/internal/protocol/message"
	"github.com/danmuck/bankwire/internal/testutil/testlog"
)

func TestParseU32(t *testing.T) {
	testlog.Start(t)
	if v, err := parseU32("amount", "4294967295"); err != nil || v != 4294967295 {
		t.Fatalf("unexpected parse: %d %v", v, err)
	}
	for _, raw := range []string{"-1", "4294967296", "ten", ""} {
		if _, err := parseU32("amount", raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestPrintHistory(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	printHistory(&buf, message.Info{
		CurrentPage: 1,
		TotalPage:   1,
		Account:     message.AccountView{ID: 1001, Name: "Alice", Balance: 200, Phone: "123"},
		Records: []message.Record{
			{TID: 1, Receiver: 1001, Sender: "deposit", Time: time.Unix(1700000000, 0), Amount: 500},
			{TID: 2, Receiver: 1001, Sender: "withdraw", Time: time.Unix(1700000100, 0), Amount: -300},
		},
	})
	out := buf.String()
	for _, want := range []string{"account  1001", "balance  200", "page     1/1", "deposit", "+500", "-300"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSessionCommandsRequireAccount(t *testing.T) {
	testlog.Start(t)
	rootCmd.SetArgs([]string{"deposit", "10", "--insecure"})
	rootCmd.SetOut(&bytes.Buffer{})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--account is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}
