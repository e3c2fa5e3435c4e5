package control

import "testing"

func TestQualityHintRoundTrip(t *testing.T) {
	data, err := Marshal(TypeQualityHint, QualityHintPayload{
		BitrateKbps: 800, FPS: 24, Width: 640, Height: 480,
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Type != TypeQualityHint {
		t.Errorf("Type = %q, want %q", m.Type, TypeQualityHint)
	}

	var hint QualityHintPayload
	if err := m.DecodePayload(&hint); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if hint.BitrateKbps != 800 || hint.FPS != 24 || hint.Width != 640 {
		t.Errorf("DecodePayload() = %+v", hint)
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := Parse([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("Parse() accepted garbage")
	}
}
