package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/bankwire/internal/testutil/testlog"
)

func TestClassifyUnauthenticatedByLength(t *testing.T) {
	testlog.Start(t)
	kind, err := Classify(PhaseUnauthenticated, make([]byte, 8))
	if err != nil || kind != KindLogin {
		t.Fatalf("expected login, got kind=%s err=%v", kind, err)
	}
	kind, err = Classify(PhaseUnauthenticated, make([]byte, 12))
	if err != nil || kind != KindRegister {
		t.Fatalf("expected register, got kind=%s err=%v", kind, err)
	}
}

func TestClassifyUnauthenticatedShortBodyIsFatal(t *testing.T) {
	testlog.Start(t)
	_, err := Classify(PhaseUnauthenticated, make([]byte, 7))
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestClassifyAuthenticatedTable(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		body []byte
		want Kind
	}{
		{[]byte{OpDeposit, 0, 0, 1, 0}, KindDeposit},
		{[]byte{OpWithdraw, 0, 0, 1, 0}, KindWithdraw},
		{[]byte{OpTransfer, 0, 0, 0, 1, 0, 0, 0, 2}, KindTransfer},
		{[]byte{OpHistory}, KindHistory},
	}
	for _, tc := range cases {
		got, err := Classify(PhaseAuthenticated, tc.body)
		if err != nil {
			t.Fatalf("classify %v: %v", tc.body, err)
		}
		if got != tc.want {
			t.Fatalf("classify %v: got=%s want=%s", tc.body, got, tc.want)
		}
	}
}

func TestClassifyAuthenticatedLengthMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := Classify(PhaseAuthenticated, []byte{OpDeposit, 0, 0, 1})
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Opcode != int(OpDeposit) || verr.Reason != "payload length mismatch" {
		t.Fatalf("unexpected validation error: %+v", verr)
	}
	if _, err := Classify(PhaseAuthenticated, []byte{OpHistory, 0}); err == nil {
		t.Fatalf("expected history with payload to fail")
	}
}

func TestClassifyAuthenticatedUnknownOpcode(t *testing.T) {
	testlog.Start(t)
	_, err := Classify(PhaseAuthenticated, []byte{9})
	var verr ValidationError
	if !errors.As(err, &verr) || verr.Reason != "unknown opcode" {
		t.Fatalf("expected unknown opcode, got %v", err)
	}
	if _, err := Classify(PhaseAuthenticated, nil); err == nil {
		t.Fatalf("expected empty body to fail")
	}
}

func TestLookupAuthenticatedRules(t *testing.T) {
	testlog.Start(t)
	rule, ok := Lookup(OpTransfer)
	if !ok || rule.Kind != KindTransfer || rule.PayloadLen != 8 {
		t.Fatalf("unexpected transfer rule: %+v ok=%v", rule, ok)
	}
	rule, ok = Lookup(OpHistory)
	if !ok || rule.PayloadLen != 0 {
		t.Fatalf("unexpected history rule: %+v ok=%v", rule, ok)
	}
	if _, ok := Lookup(9); ok {
		t.Fatalf("expected no rule for opcode 9")
	}
}
