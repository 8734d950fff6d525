package config

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		key, value string
		wantErr    bool
	}{
		{KeyMaxRetries, "5", false},
		{KeyMaxRetries, "-1", true},
		{KeyMaxRetries, "nope", true},
		{KeyBackoffBase, "1", false},
		{KeyBackoffBase, "0", true},
		{KeyTickInterval, "50", false},
		{KeyTickInterval, "49", true},
		{KeySaveInterval, "1000", false},
		{KeySaveInterval, "999", true},
		{"not_a_key", "1", true},
	}
	for _, c := range cases {
		_, err := Validate(c.key, c.value)
		if (err != nil) != c.wantErr {
			t.Errorf("Validate(%s, %s) error = %v, wantErr %v", c.key, c.value, err, c.wantErr)
		}
	}
}

func TestFromMapDefaults(t *testing.T) {
	snap, err := FromMap(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.MaxRetries != 3 || snap.BackoffBase != 2 || snap.BackoffFactorMS != 1000 {
		t.Fatalf("unexpected defaults: %+v", snap)
	}
}

func TestFromMapOverride(t *testing.T) {
	snap, err := FromMap(map[string]string{KeyMaxRetries: "7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.MaxRetries != 7 {
		t.Fatalf("expected override to apply, got %+v", snap)
	}
}
