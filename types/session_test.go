package types //nolint:revive // types is a valid package name

import "testing"

func TestTransferSession_Acknowledge(t *testing.T) {
	s := &TransferSession{Key: "k", ArtifactName: "model.gguf", TotalChunks: 3}

	if got := s.NextIndex(); got != 1 {
		t.Fatalf("NextIndex() = %d, want 1", got)
	}
	if s.Complete() {
		t.Fatal("fresh session should not be complete")
	}

	for i := 1; i <= 3; i++ {
		if err := s.Acknowledge(i); err != nil {
			t.Fatalf("Acknowledge(%d): %v", i, err)
		}
	}
	if !s.Complete() {
		t.Error("session should be complete after acknowledging every chunk")
	}
	if err := s.Acknowledge(4); err == nil {
		t.Error("expected error acknowledging past the last chunk")
	}
}

func TestTransferSession_AcknowledgeOutOfOrder(t *testing.T) {
	last := 2
	s := &TransferSession{TotalChunks: 5, LastAcknowledged: &last}

	if err := s.Acknowledge(2); err == nil {
		t.Error("expected error re-acknowledging chunk 2")
	}
	if err := s.Acknowledge(4); err == nil {
		t.Error("expected error skipping chunk 3")
	}
	if err := s.Acknowledge(3); err != nil {
		t.Errorf("Acknowledge(3): %v", err)
	}
	if *s.LastAcknowledged != 3 {
		t.Errorf("LastAcknowledged = %d, want 3", *s.LastAcknowledged)
	}
}

func TestRemoteEndpoint_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ep      RemoteEndpoint
		wantErr bool
	}{
		{"valid", RemoteEndpoint{Canister: "llama_cpp_canister", Network: "local"}, false},
		{"missing canister", RemoteEndpoint{Network: "ic"}, true},
		{"missing network", RemoteEndpoint{Canister: "llama_cpp_canister"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ep.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunMeta_Validate(t *testing.T) {
	if err := (&RunMeta{}).Validate(); err == nil {
		t.Error("expected error for empty run_id")
	}
	if err := (&RunMeta{RunID: "run-1"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
