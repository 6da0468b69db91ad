package job

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := DeliveryJob{
		DeliveryID:  "11111111-1111-1111-1111-111111111111",
		EventID:     "22222222-2222-2222-2222-222222222222",
		TargetURL:   "https://example.com/hook",
		PayloadJSON: `{"ref":"main"}`,
		Attempt:     1,
	}

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	if decoded != original {
		t.Errorf("Decode() = %+v, want %+v", decoded, original)
	}
}

func TestEncodeFieldNames(t *testing.T) {
	data, err := Encode(DeliveryJob{
		DeliveryID:  "d1",
		EventID:     "e1",
		TargetURL:   "https://example.com",
		PayloadJSON: `{}`,
		Attempt:     2,
	})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	for _, field := range []string{`"deliveryId"`, `"eventId"`, `"targetUrl"`, `"payloadJson"`, `"attempt"`} {
		if !contains(string(data), field) {
			t.Errorf("Encode() output %s missing field %s", data, field)
		}
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("Decode() expected error for invalid JSON, got nil")
	}
}

func TestNextAttempt(t *testing.T) {
	original := DeliveryJob{DeliveryID: "d1", Attempt: 3}

	next := original.NextAttempt()

	if next.Attempt != 4 {
		t.Errorf("NextAttempt() Attempt = %d, want 4", next.Attempt)
	}
	if original.Attempt != 3 {
		t.Error("NextAttempt() mutated the receiver")
	}
	if next.DeliveryID != original.DeliveryID {
		t.Errorf("NextAttempt() DeliveryID = %q, want %q", next.DeliveryID, original.DeliveryID)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
