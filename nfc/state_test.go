package nfc

import "testing"

func TestReaderState_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b ReaderState
		want bool
	}{
		{"error same message", ErrorState("a"), ErrorState("a"), true},
		{"error different message", ErrorState("a"), ErrorState("b"), false},
		{"error codes ignored", errorStateFrom(NewMultipleTagsError(2)), ErrorState(MessageMultipleTags), true},
		{"idle idle", Idle, Idle, true},
		{"active active", Active, Active, true},
		{"idle active", Idle, Active, false},
		{"pending captured", Pending, Captured, false},
		{"error idle", ErrorState(""), Idle, false},
		{"zero value is idle", ReaderState{}, Idle, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("%v.Equal(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Errorf("%v.Equal(%v) = %v, want %v (not symmetric)", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestReaderState_Description(t *testing.T) {
	tests := []struct {
		state ReaderState
		want  string
	}{
		{Idle, "Reader is inactive."},
		{Active, "Scan the NFC Tag."},
		{Pending, "Processing tag."},
		{Captured, "Tag data captured."},
		{ErrorState("Unable to connect to tag."), "Unable to connect to tag."},
	}

	for _, tt := range tests {
		if got := tt.state.Description(); got != tt.want {
			t.Errorf("%v.Description() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestReaderState_ErrorAccessors(t *testing.T) {
	s := errorStateFrom(NewConnectionError(nil))
	if !s.IsError() {
		t.Error("IsError() = false for error state")
	}
	if s.Message() != MessageConnectionFailed {
		t.Errorf("Message() = %q", s.Message())
	}
	if s.Code() != ErrCodeConnectionFailed {
		t.Errorf("Code() = %v", s.Code())
	}
	if Active.IsError() || Active.Message() != "" || Active.Code() != 0 {
		t.Error("non-error state carries error data")
	}
}

func TestEncodeUID(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte{0x04, 0xA1, 0xFF}, "04a1ff"},
		{[]byte{0x01, 0x02}, "0102"},
		{[]byte{0x00}, "00"},
		{nil, ""},
	}

	for _, tt := range tests {
		if got := EncodeUID(tt.in); got != tt.want {
			t.Errorf("EncodeUID(% x) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSnapshot_DisplayText(t *testing.T) {
	if got := (Snapshot{State: Active}).DisplayText(); got != DescriptionActive {
		t.Errorf("DisplayText() = %q, want %q", got, DescriptionActive)
	}
	if got := (Snapshot{State: Captured, UID: "0102"}).DisplayText(); got != "0102" {
		t.Errorf("DisplayText() = %q, want uid", got)
	}
}
