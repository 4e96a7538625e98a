package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"AegisVault/internal/core"
	"AegisVault/internal/event"
	"AegisVault/internal/ingestion"
	"AegisVault/internal/state"
	"AegisVault/internal/vault"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b0"
)

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

// ============================================================================
// Parsing
// ============================================================================

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":      "550e8400-e29b-41d4-a716-446655440000",
		"sender":     alice,
		"nonce":      int64(0),
		"block_time": uint64(1_700_000_000),
		"assets":     "250000000000000000000",
		"receiver":   bob,
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "vault.calls.deposit."+alice, payload), "Deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := evt.(*event.Deposit)
	if !ok {
		t.Fatalf("expected *event.Deposit, got %T", evt)
	}
	if dep.Assets.Dec() != "250000000000000000000" {
		t.Errorf("assets: got %s", dep.Assets.Dec())
	}
	if dep.Receiver != common.HexToAddress(bob) {
		t.Errorf("receiver: got %s", dep.Receiver.Hex())
	}
	if dep.Caller() != common.HexToAddress(alice) {
		t.Errorf("sender: got %s", dep.Caller().Hex())
	}
}

func TestParseCooldownShares_SubjectName(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":      "660e8400-e29b-41d4-a716-446655440001",
		"sender":     alice,
		"nonce":      int64(4),
		"block_time": uint64(1_700_000_100),
		"shares":     "1000",
		"owner":      alice,
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "", payload), "cooldown_shares")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	cs, ok := evt.(*event.CooldownShares)
	if !ok {
		t.Fatalf("expected *event.CooldownShares, got %T", evt)
	}
	if cs.Shares.Uint64() != 1000 {
		t.Errorf("shares: got %s", cs.Shares.Dec())
	}
	if cs.SourceSequence() != 4 {
		t.Errorf("nonce: got %d, want 4", cs.SourceSequence())
	}
}

func TestParseUnknownCall(t *testing.T) {
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, "", map[string]string{}), "TradeFill")
	if err == nil {
		t.Fatal("expected error for unknown call")
	}
}

func TestParseMissingField(t *testing.T) {
	payload := map[string]interface{}{
		"tx_id":      "550e8400-e29b-41d4-a716-446655440000",
		"sender":     alice,
		"block_time": uint64(1),
		"receiver":   bob,
	}
	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, "", payload), "deposit"); err == nil {
		t.Fatal("expected error for missing assets")
	}
}

// ============================================================================
// Subjects
// ============================================================================

func TestCallFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
		wantErr bool
	}{
		{"vault.calls.deposit." + alice, "deposit", false},
		{"vault.calls.unstake", "unstake", false},
		{"vault.calls.", "", true},
		{"orders.fills.btc", "", true},
	}
	for _, tc := range cases {
		got, err := ingestion.CallFromSubject(tc.subject)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.subject, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.subject, got, tc.want)
		}
	}
}

func TestDefaultSubjects_OnePerCall(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	if len(subjects) != len(event.AllEventTypes()) {
		t.Fatalf("subjects: got %d, want %d", len(subjects), len(event.AllEventTypes()))
	}
	seen := make(map[string]bool)
	for _, s := range subjects {
		if s.StreamName != ingestion.CallStream {
			t.Errorf("%s: stream %s", s.ConsumerName, s.StreamName)
		}
		if !strings.HasPrefix(s.Subject, "vault.calls.") || !strings.HasSuffix(s.Subject, ".>") {
			t.Errorf("unexpected subject %s", s.Subject)
		}
		if seen[s.ConsumerName] {
			t.Errorf("duplicate consumer %s", s.ConsumerName)
		}
		seen[s.ConsumerName] = true
	}
}

// ============================================================================
// Outbound
// ============================================================================

func TestNewPublishableEvent(t *testing.T) {
	env := &event.EventEnvelope{
		Sequence:       7,
		IdempotencyKey: "k-7",
		EventType:      event.EventTypeCooldownShares,
		Sender:         common.HexToAddress(alice),
		BlockTime:      1_700_000_000,
		SourceSequence: 2,
		Payload:        []byte(`{"shares":"5"}`),
		StateHash:      [32]byte{0xab},
		Status:         event.StatusReverted,
		Error:          "excessive redeem amount",
	}
	logs := []state.Log{vault.CooldownStarted{
		Account:     common.HexToAddress(alice),
		Assets:      uint256.NewInt(5),
		Shares:      uint256.NewInt(5),
		CooldownEnd: 1_700_086_400,
	}}

	pe := ingestion.NewPublishableEvent(env, logs)
	if pe.Subject() != "vault.ledger.events.cooldown_shares" {
		t.Errorf("subject: got %s", pe.Subject())
	}
	if pe.Status != "reverted" || pe.Error == "" {
		t.Errorf("status: got %s %q", pe.Status, pe.Error)
	}
	if !strings.HasPrefix(pe.StateHash, "0xab") {
		t.Errorf("state hash: got %s", pe.StateHash)
	}
	if len(pe.Logs) != 1 || pe.Logs[0].Name != "CooldownStarted" {
		t.Fatalf("logs: got %+v", pe.Logs)
	}

	data, err := json.Marshal(pe)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"payload":{"shares":"5"}`) {
		t.Errorf("payload not embedded raw: %s", data)
	}
}

// ============================================================================
// Bridges
// ============================================================================

func TestRunNATSBridge_AcksAfterHandOff(t *testing.T) {
	rawChan := make(chan ingestion.RawEvent, 2)
	out := make(chan core.Submission, 2)

	acked := make(chan string, 2)
	good := rawFromJSON(t, "vault.calls.unstake."+alice, map[string]interface{}{
		"tx_id":      uuid.NewString(),
		"sender":     alice,
		"block_time": uint64(10),
		"receiver":   alice,
	})
	good.AckFunc = func() { acked <- "good" }
	bad := ingestion.RawEvent{Subject: "vault.calls.unstake." + alice, Data: []byte("{")}
	bad.AckFunc = func() { acked <- "bad" }
	bad.NakFunc = func() { t.Error("bad message must not be redelivered") }

	rawChan <- bad
	rawChan <- good
	close(rawChan)

	ingestion.RunNATSBridge(context.Background(), rawChan, out, nil, zerolog.Nop())

	if got := <-acked; got != "bad" {
		t.Fatalf("first ack: got %s", got)
	}
	if got := <-acked; got != "good" {
		t.Fatalf("second ack: got %s", got)
	}
	if len(out) != 1 {
		t.Fatalf("forwarded: got %d, want 1", len(out))
	}
	sub := <-out
	if sub.Event.EventType() != event.EventTypeUnstake {
		t.Errorf("type: got %s", sub.Event.EventType())
	}
}

func TestGRPCIngest_WaitsForResult(t *testing.T) {
	ch := make(chan core.Submission)
	svc := ingestion.NewGRPCIngestService(ch)

	go func() {
		sub := <-ch
		sub.Done <- core.Result{Sequenced: true, Sequence: 42}
	}()

	body := []byte(`{"tx_id":"550e8400-e29b-41d4-a716-446655440000","sender":"` + alice + `","block_time":1,"receiver":"` + alice + `"}`)
	res, err := svc.Submit(context.Background(), "unstake", body)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Sequenced || res.Sequence != 42 {
		t.Errorf("result: got %+v", res)
	}
}

func TestGRPCIngest_UnknownCall(t *testing.T) {
	svc := ingestion.NewGRPCIngestService(make(chan core.Submission))
	_, err := svc.Submit(context.Background(), "flash_loan", []byte(`{}`))
	if !errors.Is(err, ingestion.ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
}

func TestGRPCIngest_ContextCancelled(t *testing.T) {
	svc := ingestion.NewGRPCIngestService(make(chan core.Submission))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := []byte(`{"tx_id":"550e8400-e29b-41d4-a716-446655440000","sender":"` + alice + `","block_time":1,"receiver":"` + alice + `"}`)
	if _, err := svc.Submit(ctx, "unstake", body); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
